package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the signal server is up",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := signalClient.Health(cmd.Context()); err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Health: ok")
		return nil
	},
}
