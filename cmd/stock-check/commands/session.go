package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(clearSessionCmd)
}

var clearSessionCmd = &cobra.Command{
	Use:   "clear-session",
	Short: "Forgets the persisted login cookies.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(false)
		if err != nil {
			return err
		}
		defer e.checker.Close()

		if err := e.checker.ClearSession(cmd.Context()); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
		return nil
	},
}
