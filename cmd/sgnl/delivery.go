package main

import (
	"github.com/metorial/signal/internal/client"
	"github.com/spf13/cobra"
)

var intentCmd = &cobra.Command{
	Use:     "intent",
	Short:   "Inspect per-destination deliveries of events",
	GroupID: "deliveries",
}

var intentGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a delivery intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		i, err := signalClient.GetIntent(cmd.Context(), tenant, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), i, printIntent)
	},
}

var intentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery intents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		req := &client.ListIntentsRequest{Page: pageFlags(cmd)}
		req.Events, _ = cmd.Flags().GetStringSlice("event")
		req.Destinations, _ = cmd.Flags().GetStringSlice("destination")
		req.Statuses, _ = cmd.Flags().GetStringSlice("status")

		resp, err := signalClient.ListIntents(cmd.Context(), tenant, req)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), resp, printIntentList)
	},
}

var attemptCmd = &cobra.Command{
	Use:     "attempt",
	Short:   "Inspect individual delivery attempts",
	GroupID: "deliveries",
}

var attemptGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an attempt with the response it received",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		a, err := signalClient.GetAttempt(cmd.Context(), tenant, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), a, printAttempt)
	},
}

var attemptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		req := &client.ListAttemptsRequest{Page: pageFlags(cmd)}
		req.Events, _ = cmd.Flags().GetStringSlice("event")
		req.Intents, _ = cmd.Flags().GetStringSlice("intent")
		req.Destinations, _ = cmd.Flags().GetStringSlice("destination")
		req.Statuses, _ = cmd.Flags().GetStringSlice("status")

		resp, err := signalClient.ListAttempts(cmd.Context(), tenant, req)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), resp, printAttemptList)
	},
}

func init() {
	intentListCmd.Flags().StringSlice("event", nil, "filter by event ID")
	intentListCmd.Flags().StringSlice("destination", nil, "filter by destination ID")
	intentListCmd.Flags().StringSlice("status", nil, "filter by status (pending, succeeded, failed)")
	addPageFlags(intentListCmd)

	attemptListCmd.Flags().StringSlice("event", nil, "filter by event ID")
	attemptListCmd.Flags().StringSlice("intent", nil, "filter by intent ID")
	attemptListCmd.Flags().StringSlice("destination", nil, "filter by destination ID")
	attemptListCmd.Flags().StringSlice("status", nil, "filter by status (succeeded, failed)")
	addPageFlags(attemptListCmd)

	intentCmd.AddCommand(intentGetCmd, intentListCmd)
	attemptCmd.AddCommand(attemptGetCmd, attemptListCmd)
}
