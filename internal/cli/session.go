package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xlr8harder/mq/internal/store"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(
		newSessionListCmd(a),
		newSessionSelectCmd(a),
		newSessionRenameCmd(a),
	)
	return cmd
}

func newSessionListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(a.home)
			if err != nil {
				return err
			}
			sessions, err := st.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no sessions)")
				return nil
			}
			for _, sess := range sessions {
				updated := sess.UpdatedAt
				if updated == "" {
					updated = sess.CreatedAt
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", sess.ID, updated, sess.Shortname)
				if last := lastMessage(sess); last != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", previewLine(last, 160))
				}
			}
			return nil
		},
	}
}

func lastMessage(sess *store.Session) string {
	if len(sess.Messages) == 0 {
		return ""
	}
	return sess.Messages[len(sess.Messages)-1].Content
}

func newSessionSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Make a session the latest one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(a.home)
			if err != nil {
				return err
			}
			return st.Select(args[0])
		},
	}
}

func newSessionRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-id> <new-id>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(a.home)
			if err != nil {
				return err
			}
			return st.Rename(args[0], args[1])
		},
	}
}
