package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/config"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, models, err := config.List(a.home)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no models configured)")
				return nil
			}
			for _, name := range names {
				entry := models[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", name, entry.Provider, entry.Model)
			}
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <shortname>",
		Short: "Remove a registered model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Remove(a.home, args[0])
		},
	}
}
