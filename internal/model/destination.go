package model

import (
	"slices"
	"time"

	"github.com/metorial/signal/internal/retry"
)

// DestinationStatus is the lifecycle state of a destination.
type DestinationStatus string

const (
	DestinationActive   DestinationStatus = "active"
	DestinationInactive DestinationStatus = "inactive"
)

// DestinationType is the delivery variant of a destination.
type DestinationType string

const (
	DestinationHTTPEndpoint DestinationType = "http_endpoint"
)

// IsValid checks whether the type is a known value.
func (t DestinationType) IsValid() bool {
	return t == DestinationHTTPEndpoint
}

// WebhookMethod is the HTTP method used for deliveries.
type WebhookMethod string

const (
	MethodPost  WebhookMethod = "POST"
	MethodPut   WebhookMethod = "PUT"
	MethodPatch WebhookMethod = "PATCH"
)

// IsValid checks whether the method is a known value.
func (m WebhookMethod) IsValid() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch:
		return true
	}
	return false
}

// RetryPolicy controls how failed attempts are rescheduled.
type RetryPolicy struct {
	Type         retry.Type `json:"type"`
	DelaySeconds int        `json:"delay_seconds"`
	MaxAttempts  int        `json:"max_attempts"`
}

// DefaultRetryPolicy is applied when a destination is created without one.
var DefaultRetryPolicy = RetryPolicy{
	Type:         retry.Linear,
	DelaySeconds: 30,
	MaxAttempts:  5,
}

// Destination is a tenant-configured delivery target.
type Destination struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	SenderID    string            `json:"sender_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        DestinationType   `json:"type"`
	Status      DestinationStatus `json:"status"`

	// EventTypes filters fan-out; empty means every event type.
	EventTypes []string    `json:"event_types"`
	Retry      RetryPolicy `json:"retry"`

	CurrentInstanceID string    `json:"current_instance_id,omitempty"`
	CurrentInstance   *Instance `json:"current_instance,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// HasEventTypesFilter reports whether fan-out is restricted by event type.
func (d *Destination) HasEventTypesFilter() bool {
	return len(d.EventTypes) > 0
}

// Accepts reports whether the destination subscribes to eventType.
func (d *Destination) Accepts(eventType string) bool {
	return !d.HasEventTypesFilter() || slices.Contains(d.EventTypes, eventType)
}

// Instance is an immutable, versioned snapshot of a destination's delivery
// configuration. Rotating the configuration creates a new instance and
// repoints the destination.
type Instance struct {
	ID            string          `json:"id"`
	DestinationID string          `json:"destination_id"`
	Type          DestinationType `json:"type"`
	WebhookID     string          `json:"webhook_id,omitempty"`
	Webhook       *Webhook        `json:"webhook,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Webhook is the HTTP endpoint configuration carried by an instance.
type Webhook struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	URL           string        `json:"url"`
	Method        WebhookMethod `json:"method"`
	SigningSecret string        `json:"signing_secret,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
