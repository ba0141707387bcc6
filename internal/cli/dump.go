package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/store"
)

func newDumpCmd(a *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a session document as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			data, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "dump a specific session id (default: latest)")
	return cmd
}
