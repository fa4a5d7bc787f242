package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncSubmittedCmd = &cobra.Command{
	Use:   "sync-submitted",
	Short: "Record result ids already present in the CRM",
	Long:  "Pages through every result in the CRM and adds ids missing from the local submitted set, so they are never resubmitted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context(), "sync")
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.Pipeline.SyncSubmitted(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %d submitted ids\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncSubmittedCmd)
}
