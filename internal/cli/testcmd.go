package cli

import (
	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/config"
	"github.com/xlr8harder/mq/internal/history"
	"github.com/xlr8harder/mq/internal/llm"
	"github.com/xlr8harder/mq/internal/store"
)

// connectivityPrompt keeps test runs cheap and their replies recognizable.
const connectivityPrompt = "Reply with the single word: ok"

func newTestCmd(a *app) *cobra.Command {
	var (
		jsonMode bool
		save     bool
	)

	cmd := &cobra.Command{
		Use:   "test <shortname>",
		Short: "Verify a registered model responds",
		Long: `Send a fixed connectivity prompt to a registered model and print the
reply. With --save the exchange is recorded as a session like ask.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shortname := args[0]
			entry, err := config.Get(a.home, shortname)
			if err != nil {
				return err
			}

			messages := []store.Message{{Role: "user", Content: connectivityPrompt}}
			resp, err := a.request(cmd.Context(), entry.Provider, entry.Model, messages, llm.Options{})

			history.RecordBestEffort(a.home, history.Entry{
				Source:    "test",
				Shortname: shortname,
				Provider:  entry.Provider,
				Model:     entry.Model,
				Prompt:    connectivityPrompt,
				Response:  responseText(resp),
				Error:     errorText(err),
			})
			if err != nil {
				return err
			}

			payload := resultPayload{
				Response:  resp.Content,
				Prompt:    connectivityPrompt,
				Reasoning: resp.Reasoning,
			}

			if save {
				st, err := store.New(a.home)
				if err != nil {
					return err
				}
				messages = append(messages, store.Message{Role: "assistant", Content: resp.Content})
				sess, err := st.Create(store.CreateParams{
					Shortname: shortname,
					Provider:  entry.Provider,
					Model:     entry.Model,
					Messages:  messages,
				})
				if err != nil {
					return err
				}
				payload.Session = &sess.ID
			}
			return emitResult(cmd, jsonMode, payload)
		},
	}

	cmd.Flags().BoolVar(&jsonMode, "json", false, "emit a single-line JSON object")
	cmd.Flags().BoolVar(&save, "save", false, "record the exchange as a session")
	return cmd
}
