package model

import "time"

// IntentStatus is the lifecycle state of a delivery intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentRetrying  IntentStatus = "retrying"
	IntentDelivered IntentStatus = "delivered"
	IntentFailed    IntentStatus = "failed"
)

// IsValid checks whether the status is a known value.
func (s IntentStatus) IsValid() bool {
	switch s {
	case IntentPending, IntentRetrying, IntentDelivered, IntentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further attempts will be made.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentDelivered || s == IntentFailed
}

// Error codes recorded on intents and attempts.
const (
	ErrorCodeNoDestination    = "no_destination"
	ErrorCodeRetriesExhausted = "retries_exhausted"
	ErrorCodeRequestError     = "request_error"
	ErrorCodeEventFinalized   = "event_finalized"
)

// Intent is the unit of work "deliver this event to this destination". It
// carries retry state across attempts.
type Intent struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	EventID       string       `json:"event_id"`
	DestinationID string       `json:"destination_id"`
	Status        IntentStatus `json:"status"`
	AttemptCount  int          `json:"attempt_count"`
	ErrorCode     string       `json:"error_code,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	Event       *Event       `json:"event,omitempty"`
	Destination *Destination `json:"destination,omitempty"`
}

// AttemptStatus is the outcome of a single delivery try.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// IsValid checks whether the status is a known value.
func (s AttemptStatus) IsValid() bool {
	return s == AttemptSucceeded || s == AttemptFailed
}

// NoResponseStatusCode is recorded when the request never got a response.
const NoResponseStatusCode = -1

// Attempt is one immutable try at delivering an intent. The response body
// and headers live in object storage keyed by the attempt id.
type Attempt struct {
	ID                 string        `json:"id"`
	IntentID           string        `json:"intent_id"`
	// Filled from the owning intent on reads.
	TenantID           string        `json:"tenant_id,omitempty"`
	EventID            string        `json:"event_id,omitempty"`
	DestinationID      string        `json:"destination_id,omitempty"`
	InstanceID         string        `json:"instance_id"`
	Status             AttemptStatus `json:"status"`
	AttemptNumber      int           `json:"attempt_number"`
	DurationMs         int64         `json:"duration_ms"`
	ResponseStatusCode *int          `json:"response_status_code,omitempty"`
	ErrorCode          string        `json:"error_code,omitempty"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}
