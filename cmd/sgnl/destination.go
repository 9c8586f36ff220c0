package main

import (
	"fmt"

	"github.com/metorial/signal/internal/client"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/retry"
	"github.com/spf13/cobra"
)

var destinationCmd = &cobra.Command{
	Use:     "destination",
	Aliases: []string{"dest"},
	Short:   "Manage webhook destinations",
	GroupID: "resources",
}

// retryFlags reads --retry-type, --retry-delay and --max-attempts. It returns
// nil when none was given.
func retryFlags(cmd *cobra.Command, base *model.RetryPolicy) (*model.RetryPolicy, error) {
	f := cmd.Flags()
	if !f.Changed("retry-type") && !f.Changed("retry-delay") && !f.Changed("max-attempts") {
		return nil, nil
	}
	policy := model.DefaultRetryPolicy
	if base != nil {
		policy = *base
	}
	if f.Changed("retry-type") {
		v, _ := f.GetString("retry-type")
		policy.Type = retry.Type(v)
		if !policy.Type.IsValid() {
			return nil, fmt.Errorf("invalid retry type %q (must be linear or exponential)", v)
		}
	}
	if f.Changed("retry-delay") {
		policy.DelaySeconds, _ = f.GetInt("retry-delay")
	}
	if f.Changed("max-attempts") {
		policy.MaxAttempts, _ = f.GetInt("max-attempts")
	}
	return &policy, nil
}

func addRetryFlags(cmd *cobra.Command) {
	cmd.Flags().String("retry-type", "", "retry backoff: linear or exponential")
	cmd.Flags().Int("retry-delay", 0, "base retry delay in seconds")
	cmd.Flags().Int("max-attempts", 0, "attempts before the delivery is given up")
}

var destinationCreateCmd = &cobra.Command{
	Use:   "create <name> <url>",
	Short: "Register a webhook destination for a sender",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		sender, _ := cmd.Flags().GetString("sender")
		description, _ := cmd.Flags().GetString("description")
		method, _ := cmd.Flags().GetString("method")
		eventTypes, _ := cmd.Flags().GetStringSlice("event-type")

		policy, err := retryFlags(cmd, nil)
		if err != nil {
			return err
		}
		d, err := signalClient.CreateDestination(cmd.Context(), tenant, &client.CreateDestinationRequest{
			Sender:      sender,
			Name:        args[0],
			Description: description,
			EventTypes:  eventTypes,
			Retry:       policy,
			Variant:     client.Variant{URL: args[1], Method: model.WebhookMethod(method)},
		})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), d, printDestination)
	},
}

var destinationGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		d, err := signalClient.GetDestination(cmd.Context(), tenant, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), d, printDestination)
	},
}

var destinationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List destinations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		resp, err := signalClient.ListDestinations(cmd.Context(), tenant, pageFlags(cmd))
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), resp, printDestinationList)
	},
}

var destinationUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a destination",
	Long: `Change a destination. Only the flags given are applied.

Changing --url or --method, or passing --rotate-secret, creates a new
instance of the destination. Deliveries already in flight keep using the
instance they started with.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		f := cmd.Flags()
		req := &client.UpdateDestinationRequest{}
		if f.Changed("name") {
			v, _ := f.GetString("name")
			req.Name = &v
		}
		if f.Changed("description") {
			v, _ := f.GetString("description")
			req.Description = &v
		}
		if f.Changed("event-type") {
			v, _ := f.GetStringSlice("event-type")
			if v == nil {
				v = []string{}
			}
			req.EventTypes = &v
		}

		// Retry and variant changes are merged onto the current settings.
		var current *model.Destination
		load := func() (*model.Destination, error) {
			if current != nil {
				return current, nil
			}
			d, err := signalClient.GetDestination(cmd.Context(), tenant, args[0])
			current = d
			return d, err
		}

		if f.Changed("retry-type") || f.Changed("retry-delay") || f.Changed("max-attempts") {
			cur, err := load()
			if err != nil {
				return err
			}
			if req.Retry, err = retryFlags(cmd, &cur.Retry); err != nil {
				return err
			}
		}

		rotate, _ := f.GetBool("rotate-secret")
		if f.Changed("url") || f.Changed("method") || rotate {
			cur, err := load()
			if err != nil {
				return err
			}
			variant := client.Variant{Type: cur.Type, RotateSecret: rotate}
			if inst := cur.CurrentInstance; inst != nil && inst.Webhook != nil {
				variant.URL = inst.Webhook.URL
				variant.Method = inst.Webhook.Method
			}
			if f.Changed("url") {
				variant.URL, _ = f.GetString("url")
			}
			if f.Changed("method") {
				m, _ := f.GetString("method")
				variant.Method = model.WebhookMethod(m)
			}
			req.Variant = &variant
		}

		d, err := signalClient.UpdateDestination(cmd.Context(), tenant, args[0], req)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), d, printDestination)
	},
}

var destinationDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Deactivate a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		d, err := signalClient.DeleteDestination(cmd.Context(), tenant, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), d)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "destination %s deactivated\n", d.ID)
		return nil
	},
}

func init() {
	destinationCreateCmd.Flags().StringP("sender", "s", "", "sender ID or identifier (required)")
	destinationCreateCmd.Flags().String("description", "", "description")
	destinationCreateCmd.Flags().String("method", "POST", "HTTP method: POST, PUT or PATCH")
	destinationCreateCmd.Flags().StringSlice("event-type", nil, "only receive these event types")
	addRetryFlags(destinationCreateCmd)
	_ = destinationCreateCmd.MarkFlagRequired("sender")

	destinationUpdateCmd.Flags().String("name", "", "new name")
	destinationUpdateCmd.Flags().String("description", "", "new description")
	destinationUpdateCmd.Flags().StringSlice("event-type", nil, "only receive these event types (empty for all)")
	destinationUpdateCmd.Flags().String("url", "", "new webhook URL")
	destinationUpdateCmd.Flags().String("method", "", "new HTTP method")
	destinationUpdateCmd.Flags().Bool("rotate-secret", false, "issue a new signing secret")
	addRetryFlags(destinationUpdateCmd)

	addPageFlags(destinationListCmd)

	destinationCmd.AddCommand(
		destinationCreateCmd,
		destinationGetCmd,
		destinationListCmd,
		destinationUpdateCmd,
		destinationDeleteCmd,
	)
}
