package lifecycle

import "github.com/metorial/signal/internal/model"

// EventState is the part of an event the state machine reasons about.
type EventState struct {
	ID               string
	Status           model.EventStatus
	DestinationCount int
	SuccessCount     int
	FailureCount     int
}

// EventStateOf extracts the machine state from a stored event.
func EventStateOf(e *model.Event) EventState {
	return EventState{
		ID:               e.ID,
		Status:           e.Status,
		DestinationCount: e.DestinationCount,
		SuccessCount:     e.SuccessCount,
		FailureCount:     e.FailureCount,
	}
}

// Resolved reports whether every expected outcome has arrived.
func (s EventState) Resolved() bool {
	return s.DestinationCount >= 0 && s.SuccessCount+s.FailureCount >= s.DestinationCount
}

// EventInput is one of FannedOut, OutcomeArrived or Finalize.
type EventInput interface {
	isEventInput()
}

// FannedOut carries the destinations selected for the event.
type FannedOut struct {
	DestinationIDs []string
}

// OutcomeArrived is fed after an intent outcome has been counted.
type OutcomeArrived struct{}

// Finalize applies the terminal status chosen by the aggregator.
type Finalize struct {
	Status model.EventStatus
}

func (FannedOut) isEventInput()      {}
func (OutcomeArrived) isEventInput() {}
func (Finalize) isEventInput()       {}

// StepEvent computes the next event state. A terminal event ignores input.
func StepEvent(s EventState, in EventInput) (EventState, []Effect) {
	if s.Status.IsTerminal() {
		return s, nil
	}
	ref := EventRef{EventID: s.ID}

	switch in := in.(type) {
	case FannedOut:
		if s.DestinationCount < 0 {
			s.DestinationCount = len(in.DestinationIDs)
			s.SuccessCount, s.FailureCount = 0, 0
		}
		if len(in.DestinationIDs) == 0 {
			return s, []Effect{{Task: TaskEventSucceeded, Payload: ref}}
		}
		effects := make([]Effect, 0, len(in.DestinationIDs))
		for _, id := range in.DestinationIDs {
			effects = append(effects, Effect{
				Task:      TaskIntentCreate,
				Payload:   IntentCreate{EventID: s.ID, DestinationID: id},
				DedupeKey: IntentCreateKey(s.ID, id),
			})
		}
		return s, effects

	case OutcomeArrived:
		if !s.Resolved() {
			return s, nil
		}
		if s.FailureCount > 0 {
			return s, []Effect{{Task: TaskEventFailed, Payload: ref}}
		}
		return s, []Effect{{Task: TaskEventSucceeded, Payload: ref}}

	case Finalize:
		if !s.Resolved() || !in.Status.IsTerminal() {
			return s, nil
		}
		s.Status = in.Status
		return s, []Effect{{Task: TaskEventCleanup, Payload: ref}}
	}

	return s, nil
}
