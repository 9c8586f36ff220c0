package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/metorial/signal/internal/client"
	"github.com/metorial/signal/internal/model"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:     "event",
	Short:   "Send and inspect events",
	GroupID: "deliveries",
}

// parseHeaders turns repeated "Key: Value" flags into headers.
func parseHeaders(raw []string) ([]model.Header, error) {
	headers := make([]model.Header, 0, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid header %q (want \"Key: Value\")", h)
		}
		headers = append(headers, model.Header{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return headers, nil
}

var eventSendCmd = &cobra.Command{
	Use:   "send <event-type> <payload|->",
	Short: "Submit an event for delivery",
	Long: `Submit an event for delivery to the sender's destinations.

The payload is delivered verbatim and need not be JSON. Pass "-" to read
it from stdin.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		sender, _ := cmd.Flags().GetString("sender")
		topics, _ := cmd.Flags().GetStringSlice("topic")
		only, _ := cmd.Flags().GetStringSlice("only")
		rawHeaders, _ := cmd.Flags().GetStringArray("header")

		payload, err := readPayload(args[1])
		if err != nil {
			return err
		}
		payload, _ = json.Marshal(string(payload))
		headers, err := parseHeaders(rawHeaders)
		if err != nil {
			return err
		}

		req := &client.SendEventRequest{
			Sender:    sender,
			EventType: args[0],
			Topics:    topics,
			Payload:   payload,
			Headers:   headers,
		}
		if cmd.Flags().Changed("only") {
			req.OnlyForDestinations = only
			if req.OnlyForDestinations == nil {
				req.OnlyForDestinations = []string{}
			}
		}

		e, err := signalClient.SendEvent(cmd.Context(), tenant, req)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), e, printEvent)
	},
}

var eventGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an event with its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		e, err := signalClient.GetEvent(cmd.Context(), tenant, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), e, printEvent)
	},
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		req := &client.ListEventsRequest{Page: pageFlags(cmd)}
		req.EventTypes, _ = cmd.Flags().GetStringSlice("type")
		req.Topics, _ = cmd.Flags().GetStringSlice("topic")
		req.Senders, _ = cmd.Flags().GetStringSlice("sender")

		resp, err := signalClient.ListEvents(cmd.Context(), tenant, req)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), resp, printEventList)
	},
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().String("cursor", "", "continue after this ID")
	cmd.Flags().Int("limit", 0, "page size (server default when 0)")
}

func pageFlags(cmd *cobra.Command) client.Page {
	cursor, _ := cmd.Flags().GetString("cursor")
	limit, _ := cmd.Flags().GetInt("limit")
	return client.Page{Cursor: cursor, Limit: limit}
}

func init() {
	eventSendCmd.Flags().StringP("sender", "s", "", "sender ID or identifier (required)")
	eventSendCmd.Flags().StringSlice("topic", nil, "topics (repeatable or comma-separated)")
	eventSendCmd.Flags().StringSlice("only", nil, "deliver only to these destination IDs; an empty value delivers to none")
	eventSendCmd.Flags().StringArrayP("header", "H", nil, `header sent with every delivery ("Key: Value", repeatable)`)
	_ = eventSendCmd.MarkFlagRequired("sender")

	eventListCmd.Flags().StringSlice("type", nil, "filter by event type")
	eventListCmd.Flags().StringSlice("topic", nil, "filter by topic")
	eventListCmd.Flags().StringSlice("sender", nil, "filter by sender ID or identifier")
	addPageFlags(eventListCmd)

	eventCmd.AddCommand(eventSendCmd, eventGetCmd, eventListCmd)
}
