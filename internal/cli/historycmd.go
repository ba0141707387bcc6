package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !history.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "(history disabled)")
				return nil
			}
			l, err := history.Open(a.home)
			if err != nil {
				return err
			}
			defer l.Close()

			entries, err := l.Recent(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no history)")
				return nil
			}
			for _, e := range entries {
				status := "ok"
				if e.Error != "" {
					status = "error"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s/%s\t%s\t%s\n",
					e.CreatedAt, e.Source, e.Provider, e.Model, status, previewLine(e.Prompt, 80))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
