package main

import (
	"github.com/metorial/signal/internal/client"
	"github.com/spf13/cobra"
)

var tenantCmd = &cobra.Command{
	Use:     "tenant",
	Short:   "Manage tenants",
	GroupID: "resources",
}

var tenantUpsertCmd = &cobra.Command{
	Use:   "upsert <identifier>",
	Short: "Create a tenant or rename an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[0]
		}
		t, err := signalClient.UpsertTenant(cmd.Context(), &client.UpsertRequest{Identifier: args[0], Name: name})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), t, printTenant)
	},
}

var tenantGetCmd = &cobra.Command{
	Use:   "get <id-or-identifier>",
	Short: "Show a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := signalClient.GetTenant(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), t, printTenant)
	},
}

var senderCmd = &cobra.Command{
	Use:     "sender",
	Short:   "Manage the senders of a tenant",
	GroupID: "resources",
}

var senderUpsertCmd = &cobra.Command{
	Use:   "upsert <identifier>",
	Short: "Create a sender or rename an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[0]
		}
		s, err := signalClient.UpsertSender(cmd.Context(), tenant, &client.UpsertRequest{Identifier: args[0], Name: name})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), s, printSender)
	},
}

var senderGetCmd = &cobra.Command{
	Use:   "get <id-or-identifier>",
	Short: "Show a sender",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		s, err := signalClient.GetSender(cmd.Context(), tenant, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), s, printSender)
	},
}

func init() {
	tenantUpsertCmd.Flags().String("name", "", "display name (defaults to the identifier)")
	senderUpsertCmd.Flags().String("name", "", "display name (defaults to the identifier)")

	tenantCmd.AddCommand(tenantUpsertCmd, tenantGetCmd)
	senderCmd.AddCommand(senderUpsertCmd, senderGetCmd)
}
