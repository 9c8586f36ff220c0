// Package lifecycle holds the Event and Intent state machines. Transitions
// are pure: they take the current state and an input and return the next
// state plus the tasks that must be enqueued as a result. Persisting state
// and submitting tasks is left to the caller.
package lifecycle

import "time"

// Task types understood by the delivery workers.
const (
	TaskEventNew        = "event.new"
	TaskEventSucceeded  = "event.succeeded"
	TaskEventFailed     = "event.failed"
	TaskEventCleanup    = "event.cleanup"
	TaskIntentCreate    = "intent.create"
	TaskIntentAttempt   = "intent.attempt"
	TaskIntentSucceeded = "intent.succeeded"
	TaskIntentFailed    = "intent.failed"
	TaskIntentResolved  = "intent.resolved"
	TaskCleanupSearch   = "cleanup.search"
	TaskCleanupEvent    = "cleanup.event"
)

// Effect is a task submission produced by a transition.
type Effect struct {
	Task      string
	Payload   any
	Delay     time.Duration
	DedupeKey string
}

// EventRef addresses a single event.
type EventRef struct {
	EventID string `json:"event_id"`
}

// IntentCreate asks for the intent of one (event, destination) pair.
type IntentCreate struct {
	EventID       string `json:"event_id"`
	DestinationID string `json:"destination_id"`
}

// IntentRef addresses a single intent.
type IntentRef struct {
	IntentID string `json:"intent_id"`
}

// IntentOutcome carries a terminal result into the intent manager.
type IntentOutcome struct {
	IntentID     string `json:"intent_id"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CleanupSearch walks events created before Before, one page at a time.
type CleanupSearch struct {
	Before time.Time `json:"before"`
	Cursor string    `json:"cursor,omitempty"`
}

// IntentCreateKey is the dedupe key for intent creation.
func IntentCreateKey(eventID, destinationID string) string {
	return eventID + ":" + destinationID
}
