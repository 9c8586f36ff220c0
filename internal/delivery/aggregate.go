package delivery

import (
	"context"
	"fmt"

	"github.com/metorial/signal/internal/events"
	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
)

// OnIntentResolved checks whether the intent's event has heard from every
// destination and, if so, queues its final status.
func (s *Service) OnIntentResolved(ctx context.Context, intentID string) error {
	intent, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		return transient(err, "intent", intentID)
	}
	event, err := s.store.GetEvent(ctx, intent.EventID)
	if err != nil {
		return transient(err, "event", intent.EventID)
	}

	_, effects := lifecycle.StepEvent(lifecycle.EventStateOf(event), lifecycle.OutcomeArrived{})
	return s.apply(ctx, effects)
}

// Finalize moves a fully resolved event to status. The store applies the
// transition at most once; only that call publishes it and queues cleanup.
func (s *Service) Finalize(ctx context.Context, eventID string, status model.EventStatus) error {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return transient(err, "event", eventID)
	}

	if event.Status.IsTerminal() {
		if event.PayloadOffloaded {
			return nil
		}
		// Finalized, but the cleanup may never have been queued.
		return s.apply(ctx, cleanupEffect(eventID))
	}

	next, effects := lifecycle.StepEvent(lifecycle.EventStateOf(event), lifecycle.Finalize{Status: status})
	if len(effects) == 0 {
		return nil
	}

	ok, err := s.store.FinalizeEvent(ctx, eventID, next.Status)
	if err != nil {
		return fmt.Errorf("finalize event %s: %w", eventID, err)
	}
	if !ok {
		return nil
	}

	s.logger.Info("event finalized", "event_id", eventID, "status", next.Status,
		"destinations", next.DestinationCount, "succeeded", next.SuccessCount, "failed", next.FailureCount)
	s.publish(ctx, events.TopicForEvent(next.Status), events.EventFinalized{
		EventID:          eventID,
		TenantID:         event.TenantID,
		Status:           next.Status,
		DestinationCount: next.DestinationCount,
		SuccessCount:     next.SuccessCount,
		FailureCount:     next.FailureCount,
	})
	return s.apply(ctx, cleanupEffect(eventID))
}

func cleanupEffect(eventID string) []lifecycle.Effect {
	return []lifecycle.Effect{{
		Task:      lifecycle.TaskEventCleanup,
		Payload:   lifecycle.EventRef{EventID: eventID},
		DedupeKey: eventID,
	}}
}
