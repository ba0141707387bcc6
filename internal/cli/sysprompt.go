package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/mqerr"
)

// resolveSysprompt applies the --sysprompt / --sysprompt-file pair. The two
// flags are mutually exclusive; "-" as a file reads stdin.
func resolveSysprompt(cmd *cobra.Command, sysprompt, syspromptFile string) (string, error) {
	if sysprompt != "" && syspromptFile != "" {
		return "", mqerr.User("use only one of --sysprompt or --sysprompt-file")
	}
	if syspromptFile == "" {
		return sysprompt, nil
	}

	var data []byte
	var err error
	if syspromptFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(syspromptFile)
	}
	if err != nil {
		return "", mqerr.User("failed to read sysprompt file %q: %v", syspromptFile, err).Wrap(err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// syspromptFlags registers the shared flag pair on cmd.
func syspromptFlags(cmd *cobra.Command, sysprompt, syspromptFile *string) {
	cmd.Flags().StringVarP(sysprompt, "sysprompt", "s", "", "system prompt for this run")
	cmd.Flags().StringVar(syspromptFile, "sysprompt-file", "", "read the system prompt from a file ('-' for stdin)")
}
