// Package cli implements the mq command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/llm"
	"github.com/xlr8harder/mq/internal/logger"
	"github.com/xlr8harder/mq/internal/mqerr"
	"github.com/xlr8harder/mq/internal/store"
)

const version = "0.1.0"

// errRowsFailed signals a batch run that completed but recorded per-row
// errors: exit status 1, nothing further to print.
var errRowsFailed = errors.New("some batch rows failed")

// requestFunc matches llm.Perform; tests substitute a fake.
type requestFunc func(ctx context.Context, provider, model string, messages []store.Message, opts llm.Options) (*llm.Response, error)

// app carries the per-invocation state every command needs.
type app struct {
	home    string // resolved state directory
	request requestFunc
}

// NewRootCmd builds the full command tree against the real request layer.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{request: llm.Perform})
}

func newRootCmd(a *app) *cobra.Command {
	var homeFlag string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "mq",
		Short: "mq - query configured language models",
		Long: `mq talks to configured language-model backends. It persists multi-turn
conversations as sessions, keeps a latest-session pointer so "mq continue"
resumes the most recent chat, and runs NDJSON prompt batches at bounded
concurrency with ordered, crash-safe output.

State lives under ~/.mq (override with MQ_HOME or --home). API keys come
from the environment: OPENAI_API_KEY, OPENROUTER_API_KEY, ANTHROPIC_API_KEY.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := logger.DefaultConfig()
			if verbose {
				cfg.Level = "debug"
			}
			logger.Init(cfg)

			home, err := resolveHome(homeFlag)
			if err != nil {
				return err
			}
			a.home = home
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeFlag, "home", "", "state directory (default $MQ_HOME or ~/.mq)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newAddCmd(a),
		newModelsCmd(a),
		newRmCmd(a),
		newTestCmd(a),
		newAskCmd(a),
		newContinueCmd(a),
		newDumpCmd(a),
		newSessionCmd(a),
		newBatchCmd(a),
		newHistoryCmd(a),
	)
	return cmd
}

// Execute runs the CLI and maps errors to exit statuses: 0 success, 1 batch
// completed with row errors, 2 any fatal error.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errRowsFailed) {
			return 1
		}
		printFatal(os.Stderr, err)
		return 2
	}
	return 0
}

func resolveHome(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("MQ_HOME"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mq"), nil
}

// printFatal reports an error the way the rest of the tool expects: one
// "error:" line, with provider detail lines for request failures.
func printFatal(w io.Writer, err error) {
	info := mqerr.InfoOf(err)
	if info == nil || !mqerr.IsCode(err, mqerr.CodeRequest) {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}

	detail := ""
	for _, key := range []string{"provider", "model", "status"} {
		if v, ok := info[key]; ok {
			if detail != "" {
				detail += ", "
			}
			detail += fmt.Sprintf("%s=%v", key, v)
		}
	}
	if detail != "" {
		fmt.Fprintf(w, "error (%s): %v\n", detail, err)
	} else {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	if snippet, ok := info["body_snippet"].(string); ok && snippet != "" {
		fmt.Fprintf(w, "raw: %s\n", snippet)
	}
}
