package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/batch"
	"github.com/xlr8harder/mq/internal/config"
	"github.com/xlr8harder/mq/internal/history"
	"github.com/xlr8harder/mq/internal/llm"
	"github.com/xlr8harder/mq/internal/store"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		shortname     string
		workers       int
		prefix        string
		extractTags   bool
		sysprompt     string
		syspromptFile string
		timeoutSecs   int
		retries       int
	)

	cmd := &cobra.Command{
		Use:   "batch <input.ndjson> <output.ndjson>",
		Short: "Run a prompt batch at bounded concurrency",
		Long: `Run every row of a newline-delimited JSON input file against a registered
model and write one output row per input row, in input order. "-" reads the
input from stdin or streams the output to stdout.

Each input line must be a JSON object with a string "prompt" field. The
output row carries the input row's fields plus:

  response         the model reply
  prompt           the final prompt sent (after --prefix)
  mq_input_prompt  the original prompt
  reasoning        backend reasoning trace, when present
  sysprompt        the system prompt used, when set
  error            per-row failure message (the batch continues)
  error_info       structured failure detail

These keys are reserved: an input row that already contains one is a merge
conflict and fails the whole batch before any request is issued. With
--extract-tags, <name>...</name> spans of the reply become "tag:<name>"
output fields (repeated tags collect into an array) and the "tag:" key
namespace is reserved too.

The output file is committed atomically: it appears only after every row
completed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, outPath := args[0], args[1]

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

			var in io.Reader
			if inPath == "-" {
				in = cmd.InOrStdin()
			} else {
				f, err := os.Open(inPath)
				if err != nil {
					return fmt.Errorf("failed to open batch input: %w", err)
				}
				defer f.Close()
				in = f
			}
			rows, err := batch.ParseInput(in)
			if err != nil {
				return err
			}

			opts := llm.Options{
				Timeout:     time.Duration(timeoutSecs) * time.Second,
				MaxRetries:  retries,
				Temperature: entry.Temperature,
				TopP:        entry.TopP,
				TopK:        entry.TopK,
			}
			proc := &batch.Processor{
				Prefix:      prefix,
				Sysprompt:   resolved,
				ExtractTags: extractTags,
				Request: func(ctx context.Context, prompt string) (string, string, error) {
					var messages []store.Message
					if resolved != "" {
						messages = append(messages, store.Message{Role: "system", Content: resolved})
					}
					messages = append(messages, store.Message{Role: "user", Content: prompt})
					resp, err := a.request(ctx, entry.Provider, entry.Model, messages, opts)
					if err != nil {
						return "", "", err
					}
					return resp.Content, resp.Reasoning, nil
				},
			}

			res, err := batch.Execute(cmd.Context(), rows, proc, workers, outPath)

			history.RecordBestEffort(a.home, history.Entry{
				Source:    "batch",
				Shortname: shortname,
				Provider:  entry.Provider,
				Model:     entry.Model,
				Prompt:    fmt.Sprintf("%d rows from %s", len(rows), inPath),
				Response:  fmt.Sprintf("%d completed, %d failed", res.Total, res.Failed),
				Error:     errorText(err),
			})
			if err != nil {
				return err
			}

			if res.Failed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d of %d rows failed\n", res.Failed, res.Total)
				return errRowsFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&shortname, "model", "", "registered model shortname (required)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "concurrent requests")
	cmd.Flags().StringVar(&prefix, "prefix", "", "prepend this text to every prompt")
	cmd.Flags().BoolVar(&extractTags, "extract-tags", false, "extract <name>...</name> response spans into tag: fields")
	syspromptFlags(cmd, &sysprompt, &syspromptFile)
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 600, "per-request timeout in seconds")
	cmd.Flags().IntVar(&retries, "retries", 3, "per-request retry budget")
	cobra.CheckErr(cmd.MarkFlagRequired("model"))
	return cmd
}
