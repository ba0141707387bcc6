package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/mqerr"
)

// resultPayload is the --json output: one compact object on stdout.
type resultPayload struct {
	Response  string  `json:"response"`
	Prompt    string  `json:"prompt"`
	Session   *string `json:"session"`
	Sysprompt string  `json:"sysprompt,omitempty"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// emitResult prints one completed request: a session header line first,
// then the response text. JSON mode folds everything into a single object
// instead.
func emitResult(cmd *cobra.Command, jsonMode bool, payload resultPayload) error {
	out := cmd.OutOrStdout()

	if jsonMode {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if payload.Session != nil {
		fmt.Fprintf(out, "session: %s\n", *payload.Session)
	} else {
		fmt.Fprintln(out, "session: (none)")
	}

	if strings.TrimSpace(payload.Reasoning) != "" {
		fmt.Fprintln(out, "reasoning:")
		fmt.Fprintln(out, payload.Reasoning)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "response:")
	}
	fmt.Fprintln(out, payload.Response)
	return nil
}

// readPrompt joins prompt words, reading stdin when the prompt is "-" or
// absent.
func readPrompt(cmd *cobra.Command, words []string) (string, error) {
	prompt := strings.Join(words, " ")
	if prompt != "" && prompt != "-" {
		return prompt, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	text := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(text) == "" {
		return "", mqerr.User("prompt must not be empty")
	}
	return text, nil
}

// previewLine flattens text to one line capped at max characters, keeping
// head and tail of long prompts.
func previewLine(text string, max int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) <= max {
		return flat
	}
	const ellipsis = " ... "
	headLen := (max - len(ellipsis)) / 2
	tailLen := max - len(ellipsis) - headLen
	head := strings.TrimRight(flat[:headLen], " ")
	tail := strings.TrimLeft(flat[len(flat)-tailLen:], " ")
	return head + ellipsis + tail
}
