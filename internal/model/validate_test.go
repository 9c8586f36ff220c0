package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/metorial/signal/internal/retry"
)

func strPtr(s string) *string { return &s }

func validDestination() *Destination {
	return &Destination{
		Name:   "Orders",
		Type:   DestinationHTTPEndpoint,
		Status: DestinationActive,
		Retry:  DefaultRetryPolicy,
	}
}

func requireFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	for _, fe := range ve.Errors {
		if fe.Field == field {
			return
		}
	}
	t.Fatalf("expected error on field %q, got %v", field, err)
}

func TestValidateEvent(t *testing.T) {
	valid := &Event{EventType: "user.created", Payload: strPtr(`{"id":1}`), Topics: []string{"users"}}
	if err := ValidateEvent(valid); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	for _, payload := range []string{`{`, "plain text", ""} {
		if err := ValidateEvent(&Event{EventType: "a", Payload: strPtr(payload)}); err != nil {
			t.Errorf("payload %q rejected: %v", payload, err)
		}
	}

	for _, tc := range []struct {
		name  string
		event *Event
		field string
	}{
		{"MissingType", &Event{Payload: strPtr(`{}`)}, "event_type"},
		{"LongType", &Event{EventType: strings.Repeat("x", MaxEventTypeLength+1), Payload: strPtr(`{}`)}, "event_type"},
		{"MissingPayload", &Event{EventType: "a"}, "payload"},
		{"EmptyHeaderKey", &Event{EventType: "a", Payload: strPtr(`{}`), Headers: []Header{{Key: " ", Value: "v"}}}, "headers[0]"},
		{"HeaderInjection", &Event{EventType: "a", Payload: strPtr(`{}`), Headers: []Header{{Key: "X-A", Value: "v\r\nX-B: 1"}}}, "headers[0]"},
		{"EmptyTopic", &Event{EventType: "a", Payload: strPtr(`{}`), Topics: []string{""}}, "topics[0]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			requireFieldError(t, ValidateEvent(tc.event), tc.field)
		})
	}
}

func TestValidateDestination(t *testing.T) {
	if err := ValidateDestination(validDestination()); err != nil {
		t.Fatalf("valid destination rejected: %v", err)
	}

	for _, tc := range []struct {
		name   string
		mutate func(d *Destination)
		field  string
	}{
		{"MissingName", func(d *Destination) { d.Name = "  " }, "name"},
		{"LongName", func(d *Destination) { d.Name = strings.Repeat("n", MaxNameLength+1) }, "name"},
		{"BadType", func(d *Destination) { d.Type = "smtp" }, "type"},
		{"BadRetryType", func(d *Destination) { d.Retry.Type = retry.Type("fib") }, "retry.type"},
		{"NegativeDelay", func(d *Destination) { d.Retry.DelaySeconds = -1 }, "retry.delay_seconds"},
		{"ZeroAttempts", func(d *Destination) { d.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"TooManyAttempts", func(d *Destination) { d.Retry.MaxAttempts = MaxRetryAttempts + 1 }, "retry.max_attempts"},
		{"EmptyEventType", func(d *Destination) { d.EventTypes = []string{""} }, "event_types[0]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := validDestination()
			tc.mutate(d)
			requireFieldError(t, ValidateDestination(d), tc.field)
		})
	}
}

func TestValidateWebhook(t *testing.T) {
	for _, tc := range []struct {
		name    string
		webhook Webhook
		field   string
	}{
		{"Valid", Webhook{URL: "https://example.com/hook", Method: MethodPost}, ""},
		{"MissingURL", Webhook{Method: MethodPost}, "url"},
		{"BadScheme", Webhook{URL: "ftp://example.com", Method: MethodPost}, "url"},
		{"MissingHost", Webhook{URL: "https:///path", Method: MethodPost}, "url"},
		{"BadMethod", Webhook{URL: "https://example.com", Method: "GET"}, "method"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWebhook(&tc.webhook)
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			requireFieldError(t, err, tc.field)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{Errors: []FieldError{{Field: "a", Message: "x"}, {Field: "b", Message: "y"}}}
	if got := ve.Error(); got != "validation failed: a: x; b: y" {
		t.Errorf("Error() = %q", got)
	}
}
