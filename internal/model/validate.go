package model

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) result() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Limits enforced on user input.
const (
	MaxNameLength      = 255
	MaxEventTypeLength = 255
	MaxRetryAttempts   = 100
	MaxRetryDelay      = 60 * 60 * 24
)

// ValidateEvent checks a new Event for constraint violations.
func ValidateEvent(e *Event) error {
	var ve ValidationError

	eventType := strings.TrimSpace(e.EventType)
	if eventType == "" {
		ve.add("event_type", "is required")
	} else if len(eventType) > MaxEventTypeLength {
		ve.add("event_type", "must be %d characters or fewer", MaxEventTypeLength)
	}

	// The payload is delivered verbatim and need not be JSON.
	if e.Payload == nil {
		ve.add("payload", "is required")
	}

	for i, h := range e.Headers {
		if strings.TrimSpace(h.Key) == "" {
			ve.add(fmt.Sprintf("headers[%d]", i), "key is required")
		}
		if strings.ContainsAny(h.Key, "\r\n: ") || strings.ContainsAny(h.Value, "\r\n") {
			ve.add(fmt.Sprintf("headers[%d]", i), "contains invalid characters")
		}
	}

	for i, topic := range e.Topics {
		if strings.TrimSpace(topic) == "" {
			ve.add(fmt.Sprintf("topics[%d]", i), "must not be empty")
		}
	}

	return ve.result()
}

// ValidateDestination checks a Destination and its retry policy.
func ValidateDestination(d *Destination) error {
	var ve ValidationError

	name := strings.TrimSpace(d.Name)
	if name == "" {
		ve.add("name", "is required")
	} else if len([]rune(name)) > MaxNameLength {
		ve.add("name", "must be %d characters or fewer", MaxNameLength)
	}

	if !d.Type.IsValid() {
		ve.add("type", "invalid value %q", d.Type)
	}

	validateRetry(&ve, d.Retry)

	for i, t := range d.EventTypes {
		if strings.TrimSpace(t) == "" {
			ve.add(fmt.Sprintf("event_types[%d]", i), "must not be empty")
		}
	}

	return ve.result()
}

func validateRetry(ve *ValidationError, r RetryPolicy) {
	if !r.Type.IsValid() {
		ve.add("retry.type", "invalid value %q", r.Type)
	}
	if r.DelaySeconds < 0 || r.DelaySeconds > MaxRetryDelay {
		ve.add("retry.delay_seconds", "must be between 0 and %d, got %d", MaxRetryDelay, r.DelaySeconds)
	}
	if r.MaxAttempts < 1 || r.MaxAttempts > MaxRetryAttempts {
		ve.add("retry.max_attempts", "must be between 1 and %d, got %d", MaxRetryAttempts, r.MaxAttempts)
	}
}

// ValidateWebhook checks an endpoint URL and method. Address safety is
// enforced per connection at delivery time, not here.
func ValidateWebhook(w *Webhook) error {
	var ve ValidationError

	u, err := url.Parse(w.URL)
	switch {
	case strings.TrimSpace(w.URL) == "":
		ve.add("url", "is required")
	case err != nil:
		ve.add("url", "is not a valid URL")
	case u.Scheme != "http" && u.Scheme != "https":
		ve.add("url", "scheme must be http or https")
	case u.Host == "":
		ve.add("url", "host is required")
	}

	if !w.Method.IsValid() {
		ve.add("method", "invalid value %q", w.Method)
	}

	return ve.result()
}
