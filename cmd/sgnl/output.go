package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/metorial/signal/internal/client"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// printFields writes label/value pairs as an aligned block, skipping
// empty values.
func printFields(w io.Writer, pairs ...string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", pairs[i], pairs[i+1])
	}
	tw.Flush()
}

func printNextCursor(w io.Writer, n int, noun, cursor string) {
	fmt.Fprintf(w, "\n%d %s", n, noun)
	if cursor != "" {
		fmt.Fprintf(w, " (more: --cursor %s)", cursor)
	}
	fmt.Fprintln(w)
}

func printTenant(w io.Writer, t *model.Tenant) {
	printFields(w,
		"ID", t.ID,
		"Identifier", t.Identifier,
		"Name", t.Name,
		"Created At", formatTime(t.CreatedAt),
		"Updated At", formatTime(t.UpdatedAt),
	)
}

func printSender(w io.Writer, s *model.Sender) {
	printFields(w,
		"ID", s.ID,
		"Tenant", s.TenantID,
		"Identifier", s.Identifier,
		"Name", s.Name,
		"Created At", formatTime(s.CreatedAt),
	)
}

func destinationCount(e *model.Event) string {
	if e.DestinationCount == model.UnresolvedDestinationCount {
		return "-"
	}
	return strconv.Itoa(e.DestinationCount)
}

func printEvent(w io.Writer, e *model.Event) {
	sender := e.SenderID
	if e.Sender != nil {
		sender = e.Sender.Descriptor()
	}
	printFields(w,
		"ID", e.ID,
		"Event Type", e.EventType,
		"Sender", sender,
		"Topics", strings.Join(e.Topics, ", "),
		"Status", ui.RenderStatus(string(e.Status)),
		"Destinations", destinationCount(e),
		"Succeeded", strconv.Itoa(e.SuccessCount),
		"Failed", strconv.Itoa(e.FailureCount),
		"Created At", formatTime(e.CreatedAt),
	)
	if len(e.Headers) > 0 {
		fmt.Fprintln(w, "\nHeaders:")
		for _, h := range e.Headers {
			fmt.Fprintf(w, "  %s: %s\n", h.Key, h.Value)
		}
	}
	if e.Payload != nil {
		fmt.Fprintf(w, "\nPayload:\n%s\n", *e.Payload)
	} else if e.PayloadOffloaded {
		fmt.Fprintln(w, "\nPayload: (expired)")
	}
}

func printEventList(w io.Writer, resp *client.ListEventsResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tEVENT TYPE\tDESTS\tOK\tFAILED\tCREATED")
	for _, e := range resp.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.ID,
			ui.RenderStatus(string(e.Status)),
			truncateText(e.EventType, 40),
			destinationCount(e),
			e.SuccessCount,
			e.FailureCount,
			formatTime(e.CreatedAt),
		)
	}
	tw.Flush()
	printNextCursor(w, len(resp.Events), "events", resp.NextCursor)
}

func printDestination(w io.Writer, d *model.Destination) {
	url, method, secret := "", "", ""
	if inst := d.CurrentInstance; inst != nil && inst.Webhook != nil {
		url = inst.Webhook.URL
		method = string(inst.Webhook.Method)
		secret = inst.Webhook.SigningSecret
	}
	eventTypes := "(all)"
	if d.HasEventTypesFilter() {
		eventTypes = strings.Join(d.EventTypes, ", ")
	}
	printFields(w,
		"ID", d.ID,
		"Name", d.Name,
		"Description", d.Description,
		"Sender", d.SenderID,
		"Type", string(d.Type),
		"Status", ui.RenderStatus(string(d.Status)),
		"Event Types", eventTypes,
		"Retry", fmt.Sprintf("%s every %ds, %d attempts", d.Retry.Type, d.Retry.DelaySeconds, d.Retry.MaxAttempts),
		"URL", url,
		"Method", method,
		"Signing Secret", secret,
		"Instance", d.CurrentInstanceID,
		"Created At", formatTime(d.CreatedAt),
	)
}

func printDestinationList(w io.Writer, resp *client.ListDestinationsResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNAME\tURL")
	for _, d := range resp.Destinations {
		url := ""
		if d.CurrentInstance != nil && d.CurrentInstance.Webhook != nil {
			url = d.CurrentInstance.Webhook.URL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, ui.RenderStatus(string(d.Status)), truncateText(d.Name, 40), url)
	}
	tw.Flush()
	printNextCursor(w, len(resp.Destinations), "destinations", resp.NextCursor)
}

func printIntent(w io.Writer, i *model.Intent) {
	next := ""
	if i.NextAttemptAt != nil && !i.Status.IsTerminal() {
		next = formatTime(*i.NextAttemptAt)
	}
	printFields(w,
		"ID", i.ID,
		"Event", i.EventID,
		"Destination", i.DestinationID,
		"Status", ui.RenderStatus(string(i.Status)),
		"Attempts", strconv.Itoa(i.AttemptCount),
		"Error Code", i.ErrorCode,
		"Error", i.ErrorMessage,
		"Next Attempt", next,
		"Created At", formatTime(i.CreatedAt),
	)
}

func printIntentList(w io.Writer, resp *client.ListIntentsResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tEVENT\tDESTINATION\tATTEMPTS\tERROR")
	for _, i := range resp.Intents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			i.ID, ui.RenderStatus(string(i.Status)), i.EventID, i.DestinationID, i.AttemptCount, i.ErrorCode)
	}
	tw.Flush()
	printNextCursor(w, len(resp.Intents), "intents", resp.NextCursor)
}

func responseCode(a *model.Attempt) string {
	if a.ResponseStatusCode == nil || *a.ResponseStatusCode == model.NoResponseStatusCode {
		return "-"
	}
	return strconv.Itoa(*a.ResponseStatusCode)
}

func printAttempt(w io.Writer, a *client.AttemptDetail) {
	printFields(w,
		"ID", a.ID,
		"Intent", a.IntentID,
		"Event", a.EventID,
		"Destination", a.DestinationID,
		"Instance", a.InstanceID,
		"Status", ui.RenderStatus(string(a.Status)),
		"Attempt", strconv.Itoa(a.AttemptNumber),
		"Response", responseCode(&a.Attempt),
		"Duration", fmt.Sprintf("%dms", a.DurationMs),
		"Error Code", a.ErrorCode,
		"Error", a.ErrorMessage,
		"Created At", formatTime(a.CreatedAt),
	)
	if a.Response == nil {
		return
	}
	if len(a.Response.Headers) > 0 {
		fmt.Fprintln(w, "\nResponse Headers:")
		for _, h := range a.Response.Headers {
			fmt.Fprintf(w, "  %s: %s\n", h.Key, h.Value)
		}
	}
	if a.Response.Body != "" {
		fmt.Fprintf(w, "\nResponse Body:\n%s\n", a.Response.Body)
	}
}

func printAttemptList(w io.Writer, resp *client.ListAttemptsResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tINTENT\t#\tCODE\tDURATION\tCREATED")
	for _, a := range resp.Attempts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%dms\t%s\n",
			a.ID, ui.RenderStatus(string(a.Status)), a.IntentID, a.AttemptNumber,
			responseCode(a), a.DurationMs, formatTime(a.CreatedAt))
	}
	tw.Flush()
	printNextCursor(w, len(resp.Attempts), "attempts", resp.NextCursor)
}

// render prints v as JSON when --json is set and through table otherwise.
func render[T any](w io.Writer, v T, table func(io.Writer, T)) error {
	if jsonOutput {
		return printJSON(w, v)
	}
	table(w, v)
	return nil
}

// requireTenant returns the selected tenant or an error naming how to set one.
func requireTenant() (string, error) {
	if tenantRef == "" {
		return "", fmt.Errorf("no tenant selected; pass --tenant, set SIGNAL_TENANT, or add one to the active remote")
	}
	return tenantRef, nil
}

// readPayload returns the payload argument, reading stdin when it is "-".
func readPayload(arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading payload from stdin: %w", err)
	}
	return data, nil
}
