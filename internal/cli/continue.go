package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/history"
	"github.com/xlr8harder/mq/internal/llm"
	"github.com/xlr8harder/mq/internal/store"
)

func newContinueCmd(a *app) *cobra.Command {
	var (
		jsonMode  bool
		sessionID string
	)

	cmd := &cobra.Command{
		Use:     "continue [<prompt>...]",
		Aliases: []string{"cont"},
		Short:   "Continue the most recent conversation",
		Long: `Append one turn to the latest session (or a specific one with --session).
An absent prompt or a single "-" reads the prompt from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd, args)
			if err != nil {
				return err
			}

			st, err := store.New(a.home)
			if err != nil {
				return err
			}

			var sess *store.Session
			if sessionID != "" {
				sess, err = st.Load(sessionID)
			} else {
				sess, err = st.LoadLatest()
			}
			if err != nil {
				return err
			}

			if jsonMode {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: --json output does not include full conversation context (use `mq dump` for history)")
			}

			messages := append(sess.Messages, store.Message{Role: "user", Content: prompt})
			resp, err := a.request(cmd.Context(), sess.Provider, sess.Model, messages, llm.Options{})

			history.RecordBestEffort(a.home, history.Entry{
				Source:    "continue",
				Shortname: sess.Shortname,
				Provider:  sess.Provider,
				Model:     sess.Model,
				SessionID: sess.ID,
				Prompt:    prompt,
				Response:  responseText(resp),
				Error:     errorText(err),
			})
			if err != nil {
				return err
			}

			sess.Messages = append(messages, store.Message{Role: "assistant", Content: resp.Content})
			if err := st.Save(sess); err != nil {
				return err
			}

			return emitResult(cmd, jsonMode, resultPayload{
				Response:  resp.Content,
				Prompt:    prompt,
				Session:   &sess.ID,
				Sysprompt: sess.Sysprompt,
				Reasoning: resp.Reasoning,
			})
		},
	}

	cmd.Flags().BoolVar(&jsonMode, "json", false, "emit a single-line JSON object")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue a specific session id (default: latest)")
	return cmd
}
