// Package client talks to a signal server over its HTTP API.
package client

import (
	"context"
	"encoding/json"

	"github.com/metorial/signal/internal/model"
)

// Client is the interface for the signal API. Every tenant-scoped call takes
// the tenant ID or identifier.
type Client interface {
	Health(ctx context.Context) error

	UpsertTenant(ctx context.Context, req *UpsertRequest) (*model.Tenant, error)
	GetTenant(ctx context.Context, tenant string) (*model.Tenant, error)
	UpsertSender(ctx context.Context, tenant string, req *UpsertRequest) (*model.Sender, error)
	GetSender(ctx context.Context, tenant, sender string) (*model.Sender, error)

	SendEvent(ctx context.Context, tenant string, req *SendEventRequest) (*model.Event, error)
	GetEvent(ctx context.Context, tenant, id string) (*model.Event, error)
	ListEvents(ctx context.Context, tenant string, req *ListEventsRequest) (*ListEventsResponse, error)

	CreateDestination(ctx context.Context, tenant string, req *CreateDestinationRequest) (*model.Destination, error)
	GetDestination(ctx context.Context, tenant, id string) (*model.Destination, error)
	ListDestinations(ctx context.Context, tenant string, page Page) (*ListDestinationsResponse, error)
	UpdateDestination(ctx context.Context, tenant, id string, req *UpdateDestinationRequest) (*model.Destination, error)
	DeleteDestination(ctx context.Context, tenant, id string) (*model.Destination, error)

	GetIntent(ctx context.Context, tenant, id string) (*model.Intent, error)
	ListIntents(ctx context.Context, tenant string, req *ListIntentsRequest) (*ListIntentsResponse, error)
	GetAttempt(ctx context.Context, tenant, id string) (*AttemptDetail, error)
	ListAttempts(ctx context.Context, tenant string, req *ListAttemptsRequest) (*ListAttemptsResponse, error)

	Close() error
}

// Page selects a page of a listing. Zero values use the server defaults.
type Page struct {
	Cursor string
	Limit  int
}

// UpsertRequest creates or renames a tenant or sender by identifier.
type UpsertRequest struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// SendEventRequest submits an event on behalf of a sender.
type SendEventRequest struct {
	Sender              string          `json:"sender"`
	EventType           string          `json:"event_type"`
	Topics              []string        `json:"topics,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	Headers             []model.Header  `json:"headers,omitempty"`
	// OnlyForDestinations restricts fan-out when non-nil; an empty slice
	// delivers to no destination.
	OnlyForDestinations []string        `json:"only_for_destinations"`
}

// ListEventsRequest filters an event listing.
type ListEventsRequest struct {
	EventTypes []string
	Topics     []string
	Senders    []string
	Page
}

// ListEventsResponse is one page of events.
type ListEventsResponse struct {
	Events     []*model.Event `json:"events"`
	NextCursor string         `json:"next_cursor"`
}

// Variant is the delivery target of a destination.
type Variant struct {
	Type         model.DestinationType `json:"type,omitempty"`
	URL          string                `json:"url"`
	Method       model.WebhookMethod   `json:"method,omitempty"`
	RotateSecret bool                  `json:"rotate_secret,omitempty"`
}

// CreateDestinationRequest registers a destination for a sender.
type CreateDestinationRequest struct {
	Sender      string             `json:"sender"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	EventTypes  []string           `json:"event_types,omitempty"`
	Retry       *model.RetryPolicy `json:"retry,omitempty"`
	Variant     Variant            `json:"variant"`
}

// UpdateDestinationRequest changes a destination; nil fields are left as is.
type UpdateDestinationRequest struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	EventTypes  *[]string          `json:"event_types,omitempty"`
	Retry       *model.RetryPolicy `json:"retry,omitempty"`
	Variant     *Variant           `json:"variant,omitempty"`
}

// ListDestinationsResponse is one page of destinations.
type ListDestinationsResponse struct {
	Destinations []*model.Destination `json:"destinations"`
	NextCursor   string               `json:"next_cursor"`
}

// ListIntentsRequest filters an intent listing.
type ListIntentsRequest struct {
	Events       []string
	Destinations []string
	Statuses     []string
	Page
}

// ListIntentsResponse is one page of intents.
type ListIntentsResponse struct {
	Intents    []*model.Intent `json:"intents"`
	NextCursor string          `json:"next_cursor"`
}

// ListAttemptsRequest filters an attempt listing.
type ListAttemptsRequest struct {
	Events       []string
	Intents      []string
	Destinations []string
	Statuses     []string
	Page
}

// ListAttemptsResponse is one page of attempts.
type ListAttemptsResponse struct {
	Attempts   []*model.Attempt `json:"attempts"`
	NextCursor string           `json:"next_cursor"`
}

// AttemptResponse is the stored response of an attempt.
type AttemptResponse struct {
	Body    string         `json:"body"`
	Headers []model.Header `json:"headers"`
	Error   string         `json:"error,omitempty"`
}

// AttemptDetail is an attempt with its stored response, when one exists.
type AttemptDetail struct {
	model.Attempt
	Response *AttemptResponse `json:"response,omitempty"`
}
