package events

import (
	"context"
	"time"

	"github.com/metorial/signal/internal/model"
)

// Topic constants
const (
	TopicTaskPrefix = "signal.tasks."
	TopicTasksAll   = TopicTaskPrefix + ">"

	TopicEventDelivered  = "signal.event.delivered"
	TopicEventFailed     = "signal.event.failed"
	TopicIntentDelivered = "signal.intent.delivered"
	TopicIntentFailed    = "signal.intent.failed"
)

// TaskTopic is the wake-up subject for tasks of the given type.
func TaskTopic(taskType string) string {
	return TopicTaskPrefix + taskType
}

// TopicForEvent returns the lifecycle subject for a terminal event status.
func TopicForEvent(status model.EventStatus) string {
	if status == model.EventDelivered {
		return TopicEventDelivered
	}
	return TopicEventFailed
}

// TopicForIntent returns the lifecycle subject for a terminal intent status.
func TopicForIntent(status model.IntentStatus) string {
	if status == model.IntentDelivered {
		return TopicIntentDelivered
	}
	return TopicIntentFailed
}

// Event types

// TaskReady tells idle workers that a task of Type becomes runnable at RunAt.
type TaskReady struct {
	Type  string    `json:"type"`
	RunAt time.Time `json:"run_at"`
}

type EventFinalized struct {
	EventID          string            `json:"event_id"`
	TenantID         string            `json:"tenant_id"`
	Status           model.EventStatus `json:"status"`
	DestinationCount int               `json:"destination_count"`
	SuccessCount     int               `json:"success_count"`
	FailureCount     int               `json:"failure_count"`
}

type IntentResolved struct {
	IntentID      string             `json:"intent_id"`
	TenantID      string             `json:"tenant_id"`
	EventID       string             `json:"event_id"`
	DestinationID string             `json:"destination_id"`
	Status        model.IntentStatus `json:"status"`
	ErrorCode     string             `json:"error_code,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
