package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/metorial/signal/internal/model"
)

// ErrNotFound is returned when a lookup matches no row. It is sql.ErrNoRows
// so callers may test for either.
var ErrNotFound = sql.ErrNoRows

// Store defines the persistence interface for tenants, events and their
// delivery records.
type Store interface {
	// Tenants and senders
	UpsertTenant(ctx context.Context, tenant *model.Tenant) error
	GetTenant(ctx context.Context, idOrIdentifier string) (*model.Tenant, error)
	UpsertSender(ctx context.Context, sender *model.Sender) error
	GetSender(ctx context.Context, tenantID, idOrIdentifier string) (*model.Sender, error)

	// Events
	CreateEvent(ctx context.Context, event *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error)
	// SetDestinationCount records the fan-out size and zeroes the counters,
	// but only while the event is pending and unresolved. Reports whether
	// the row changed.
	SetDestinationCount(ctx context.Context, eventID string, count int) (bool, error)
	// IncrementEventCounter adds one to the success or failure counter.
	IncrementEventCounter(ctx context.Context, eventID string, succeeded bool) error
	// FinalizeEvent moves a pending, fully resolved event to status. Reports
	// whether this call made the transition.
	FinalizeEvent(ctx context.Context, eventID string, status model.EventStatus) (bool, error)
	// ScrubEventPayload clears payload and headers and marks the event offloaded.
	ScrubEventPayload(ctx context.Context, eventID string) error
	// ListEventIDsBefore pages through events created before the cutoff, by id descending.
	ListEventIDsBefore(ctx context.Context, before time.Time, cursor string, limit int) ([]string, error)
	// PurgeEvent deletes an event with its intents and attempts.
	PurgeEvent(ctx context.Context, eventID string) error

	// Destinations
	CreateWebhook(ctx context.Context, webhook *model.Webhook) error
	CreateDestination(ctx context.Context, dest *model.Destination) error
	CreateInstance(ctx context.Context, inst *model.Instance) error
	UpdateDestination(ctx context.Context, dest *model.Destination) error
	// GetDestination loads a destination with its current instance and webhook.
	GetDestination(ctx context.Context, id string) (*model.Destination, error)
	ListDestinations(ctx context.Context, filter model.DestinationFilter) ([]*model.Destination, error)
	// ListActiveDestinations returns live destinations of a tenant's sender
	// that accept the event type.
	ListActiveDestinations(ctx context.Context, tenantID, senderID, eventType string) ([]*model.Destination, error)
	DeleteDestination(ctx context.Context, id string) error

	// Intents
	// CreateIntent inserts the intent for (event, destination) unless one
	// exists, and returns the stored row either way.
	CreateIntent(ctx context.Context, intent *model.Intent) (*model.Intent, error)
	GetIntent(ctx context.Context, id string) (*model.Intent, error)
	ListIntents(ctx context.Context, filter model.IntentFilter) ([]*model.Intent, error)
	ScheduleIntentRetry(ctx context.Context, intentID string, nextAttemptAt time.Time) error
	// ResolveIntent applies a terminal status to a non-terminal intent.
	// Reports whether this call made the transition.
	ResolveIntent(ctx context.Context, intentID string, status model.IntentStatus, errorCode, errorMessage string) (bool, error)
	// CloseEventIntents fails every non-terminal intent of an event.
	CloseEventIntents(ctx context.Context, eventID, errorCode, errorMessage string) error

	// Attempts
	// RecordAttempt advances the intent's attempt counter from
	// attempt.AttemptNumber-1 and inserts the attempt. Reports false when
	// another worker already recorded this attempt number.
	RecordAttempt(ctx context.Context, attempt *model.Attempt) (bool, error)
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	// GetLatestAttempt returns the intent's highest-numbered attempt, or
	// ErrNotFound before the first one.
	GetLatestAttempt(ctx context.Context, intentID string) (*model.Attempt, error)
	ListAttempts(ctx context.Context, filter model.AttemptFilter) ([]*model.Attempt, error)
	ListAttemptIDsForEvent(ctx context.Context, eventID string) ([]string, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
