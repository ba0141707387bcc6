package cli

import (
	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/config"
	"github.com/xlr8harder/mq/internal/mqerr"
	"github.com/xlr8harder/mq/internal/store"
)

func newAddCmd(a *app) *cobra.Command {
	var (
		sysprompt     string
		syspromptFile string
		temperature   float64
		topP          float64
		topK          int
		force         bool
	)

	cmd := &cobra.Command{
		Use:   "add <shortname> <provider> <model>",
		Short: "Register a model shortname",
		Long: `Register a model under a shortname. Provider is one of openai, openrouter
or anthropic; model is the backend's full model identifier. A saved system
prompt and sampling parameters become the defaults for every ask using this
shortname.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			shortname, provider, model := args[0], args[1], args[2]

			if !force {
				if _, err := config.Get(a.home, shortname); err == nil {
					return mqerr.Conflict("shortname %q already exists (use --force to overwrite)", shortname)
				}
			}

			resolved, err := resolveSysprompt(cmd, sysprompt, syspromptFile)
			if err != nil {
				return err
			}

			if err := store.EnsureDir(a.home); err != nil {
				return err
			}
			entry := config.ModelConfig{
				Provider:  provider,
				Model:     model,
				Sysprompt: resolved,
			}
			if cmd.Flags().Changed("temperature") {
				entry.Temperature = &temperature
			}
			if cmd.Flags().Changed("top-p") {
				entry.TopP = &topP
			}
			if cmd.Flags().Changed("top-k") {
				entry.TopK = &topK
			}
			return config.Upsert(a.home, shortname, entry)
		},
	}

	syspromptFlags(cmd, &sysprompt, &syspromptFile)
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "default sampling temperature")
	cmd.Flags().Float64Var(&topP, "top-p", 0, "default nucleus sampling cutoff")
	cmd.Flags().IntVar(&topK, "top-k", 0, "default top-k sampling cutoff")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing shortname")
	return cmd
}
