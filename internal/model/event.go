package model

import (
	"slices"
	"time"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventDelivered EventStatus = "delivered"
	EventFailed    EventStatus = "failed"
)

// IsValid checks whether the status is a known value.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventPending, EventDelivered, EventFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s EventStatus) IsTerminal() bool {
	return s == EventDelivered || s == EventFailed
}

// UnresolvedDestinationCount marks an event whose fan-out has not run yet.
const UnresolvedDestinationCount = -1

// Header is a single custom header forwarded with every delivery.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a single notification submitted by a sender, fanned out to zero
// or more destinations.
type Event struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	SenderID  string   `json:"sender_id"`
	EventType string   `json:"event_type"`
	Topics    []string `json:"topics"`

	// Payload is nil once the event has been offloaded to object storage.
	Payload *string  `json:"payload,omitempty"`
	Headers []Header `json:"headers,omitempty"`

	// OnlyForDestinations restricts fan-out when non-nil.
	OnlyForDestinations []string `json:"only_for_destinations,omitempty"`

	Status           EventStatus `json:"status"`
	DestinationCount int         `json:"destination_count"`
	SuccessCount     int         `json:"success_count"`
	FailureCount     int         `json:"failure_count"`
	PayloadOffloaded bool        `json:"payload_offloaded"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Sender *Sender `json:"sender,omitempty"`
}

// HasDestinationFilter reports whether an explicit allow-list was supplied.
func (e *Event) HasDestinationFilter() bool {
	return e.OnlyForDestinations != nil
}

// AllowsDestination reports whether the allow-list (if any) admits id.
func (e *Event) AllowsDestination(id string) bool {
	return !e.HasDestinationFilter() || slices.Contains(e.OnlyForDestinations, id)
}

// Resolved reports whether every expected outcome has arrived.
func (e *Event) Resolved() bool {
	return e.DestinationCount >= 0 && e.SuccessCount+e.FailureCount >= e.DestinationCount
}
