package delivery

import (
	"context"
	"fmt"

	"github.com/metorial/signal/internal/events"
	"github.com/metorial/signal/internal/idgen"
	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/queue"
	"github.com/metorial/signal/internal/store"
)

// CreateIntent creates the intent for one (event, destination) pair and
// queues its first attempt. Running it twice yields the same intent.
func (s *Service) CreateIntent(ctx context.Context, eventID, destinationID string) error {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return transient(err, "event", eventID)
	}
	dest, err := s.store.GetDestination(ctx, destinationID)
	if err != nil {
		return transient(err, "destination", destinationID)
	}
	if dest.TenantID != event.TenantID || dest.SenderID != event.SenderID {
		return fmt.Errorf("destination %s is outside the scope of event %s: %w", destinationID, eventID, queue.ErrRetry)
	}

	id, err := idgen.GenerateWithPrefix(idgen.PrefixIntent)
	if err != nil {
		return err
	}
	now := s.now()
	intent, err := s.store.CreateIntent(ctx, &model.Intent{
		ID:            id,
		EventID:       eventID,
		DestinationID: destinationID,
		Status:        model.IntentPending,
		NextAttemptAt: &now,
	})
	if err != nil {
		return fmt.Errorf("create intent for %s: %w", lifecycle.IntentCreateKey(eventID, destinationID), err)
	}

	_, effects := lifecycle.StepIntent(intentState(intent), lifecycle.IntentCreated{})
	return s.apply(ctx, effects)
}

// OnSucceeded marks the intent delivered and counts the success.
func (s *Service) OnSucceeded(ctx context.Context, out lifecycle.IntentOutcome) error {
	return s.resolveIntent(ctx, out, true)
}

// OnFailed marks the intent failed with the outcome's code and counts the failure.
func (s *Service) OnFailed(ctx context.Context, out lifecycle.IntentOutcome) error {
	return s.resolveIntent(ctx, out, false)
}

// resolveIntent applies a terminal outcome once. The conditional status
// update and the counter increment share a transaction, so a repeated
// outcome neither changes the intent nor counts twice.
func (s *Service) resolveIntent(ctx context.Context, out lifecycle.IntentOutcome, succeeded bool) error {
	intent, err := s.store.GetIntent(ctx, out.IntentID)
	if err != nil {
		return transient(err, "intent", out.IntentID)
	}

	next, effects := lifecycle.StepIntent(intentState(intent), lifecycle.IntentResolve{
		Succeeded:    succeeded,
		ErrorCode:    out.ErrorCode,
		ErrorMessage: out.ErrorMessage,
	})
	if intent.Status.IsTerminal() {
		// An earlier run may have committed without queueing the signal.
		return s.apply(ctx, resolvedEffect(intent.ID))
	}

	var resolved bool
	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		ok, err := tx.ResolveIntent(ctx, intent.ID, next.Status, out.ErrorCode, out.ErrorMessage)
		if err != nil || !ok {
			return err
		}
		resolved = true
		return tx.IncrementEventCounter(ctx, intent.EventID, succeeded)
	})
	if err != nil {
		return fmt.Errorf("resolve intent %s: %w", intent.ID, err)
	}
	if !resolved {
		return s.apply(ctx, resolvedEffect(intent.ID))
	}

	s.logger.Info("intent resolved", "intent_id", intent.ID, "event_id", intent.EventID,
		"status", next.Status, "error_code", out.ErrorCode)
	s.publish(ctx, events.TopicForIntent(next.Status), events.IntentResolved{
		IntentID:      intent.ID,
		TenantID:      intent.TenantID,
		EventID:       intent.EventID,
		DestinationID: intent.DestinationID,
		Status:        next.Status,
		ErrorCode:     out.ErrorCode,
		ErrorMessage:  out.ErrorMessage,
	})
	return s.apply(ctx, effects)
}

func resolvedEffect(intentID string) []lifecycle.Effect {
	return []lifecycle.Effect{{
		Task:      lifecycle.TaskIntentResolved,
		Payload:   lifecycle.IntentRef{IntentID: intentID},
		DedupeKey: intentID,
	}}
}
