package main

import (
	"os"

	"github.com/metorial/signal/internal/client"
	"github.com/metorial/signal/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	tenantRef  string
	jsonOutput bool

	signalClient client.Client
)

func defaultServerURL() string {
	if s := os.Getenv("SIGNAL_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("SIGNAL_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

func defaultTenant() string {
	if s := os.Getenv("SIGNAL_TENANT"); s != "" {
		return s
	}
	return activeRemoteTenant()
}

// skipClient is used as PersistentPreRunE by commands that never talk to a
// server over HTTP.
func skipClient(*cobra.Command, []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:           "sgnl <command>",
	Short:         "Multi-tenant webhook delivery service",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		signalClient = client.NewHTTPClient(serverURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if signalClient != nil {
			signalClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "signal server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token for the API")
	rootCmd.PersistentFlags().StringVarP(&tenantRef, "tenant", "t", defaultTenant(), "tenant ID or identifier")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "resources", Title: "Resources:"},
		&cobra.Group{ID: "deliveries", Title: "Deliveries:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Resources
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(senderCmd)
	rootCmd.AddCommand(destinationCmd)

	// Deliveries
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(intentCmd)
	rootCmd.AddCommand(attemptCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
