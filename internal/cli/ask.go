package cli

import (
	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/config"
	"github.com/xlr8harder/mq/internal/history"
	"github.com/xlr8harder/mq/internal/llm"
	"github.com/xlr8harder/mq/internal/mqerr"
	"github.com/xlr8harder/mq/internal/store"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		sysprompt     string
		syspromptFile string
		jsonMode      bool
		noSession     bool
		sessionID     string
	)

	cmd := &cobra.Command{
		Use:   "ask <shortname> <prompt>...",
		Short: "Ask a registered model",
		Long: `Send one prompt to a registered model. Prompt words are joined with
spaces; a single "-" reads the prompt from stdin. Unless --no-session is
given, the exchange is saved as a new session and becomes the latest one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shortname := args[0]
			prompt, err := readPrompt(cmd, args[1:])
			if err != nil {
				return err
			}

			entry, err := config.Get(a.home, shortname)
			if err != nil {
				return err
			}

			resolved, err := resolveSysprompt(cmd, sysprompt, syspromptFile)
			if err != nil {
				return err
			}
			if resolved == "" {
				resolved = entry.Sysprompt
			}

			st, err := store.New(a.home)
			if err != nil {
				return err
			}
			if sessionID != "" {
				if err := store.ValidateSessionID(sessionID); err != nil {
					return err
				}
				if st.Exists(sessionID) {
					return mqerr.Conflict("session already exists: %q", sessionID)
				}
			}

			var messages []store.Message
			if resolved != "" {
				messages = append(messages, store.Message{Role: "system", Content: resolved})
			}
			messages = append(messages, store.Message{Role: "user", Content: prompt})

			resp, err := a.request(cmd.Context(), entry.Provider, entry.Model, messages, llm.Options{
				Temperature: entry.Temperature,
				TopP:        entry.TopP,
				TopK:        entry.TopK,
			})

			history.RecordBestEffort(a.home, history.Entry{
				Source:    "ask",
				Shortname: shortname,
				Provider:  entry.Provider,
				Model:     entry.Model,
				Prompt:    prompt,
				Response:  responseText(resp),
				Error:     errorText(err),
			})
			if err != nil {
				return err
			}

			payload := resultPayload{
				Response:  resp.Content,
				Prompt:    prompt,
				Sysprompt: resolved,
				Reasoning: resp.Reasoning,
			}

			if noSession {
				return emitResult(cmd, jsonMode, payload)
			}

			messages = append(messages, store.Message{Role: "assistant", Content: resp.Content})
			sess, err := st.Create(store.CreateParams{
				Shortname:   shortname,
				Provider:    entry.Provider,
				Model:       entry.Model,
				Sysprompt:   resolved,
				Messages:    messages,
				RequestedID: sessionID,
			})
			if err != nil {
				return err
			}
			payload.Session = &sess.ID
			return emitResult(cmd, jsonMode, payload)
		},
	}

	syspromptFlags(cmd, &sysprompt, &syspromptFile)
	cmd.Flags().BoolVar(&jsonMode, "json", false, "emit a single-line JSON object")
	cmd.Flags().BoolVarP(&noSession, "no-session", "n", false, "do not create a session")
	cmd.Flags().StringVar(&sessionID, "session", "", "create the session under this id")
	return cmd
}

func responseText(resp *llm.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
