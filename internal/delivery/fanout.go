package delivery

import (
	"context"
	"fmt"

	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/queue"
)

// OnNewEvent resolves the destinations of an event, records how many
// outcomes to expect and starts one intent per destination.
//
// The count is written before any intent exists, so no outcome can be
// counted against an unresolved event. A repeated run keeps the recorded
// count and re-submits the same intent creations, which are idempotent.
func (s *Service) OnNewEvent(ctx context.Context, eventID string) error {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return transient(err, "event", eventID)
	}
	if event.Status.IsTerminal() {
		return nil
	}

	dests, err := s.store.ListActiveDestinations(ctx, event.TenantID, event.SenderID, event.EventType)
	if err != nil {
		return fmt.Errorf("list destinations of %s: %w", eventID, err)
	}
	ids := make([]string, 0, len(dests))
	for _, d := range dests {
		if event.AllowsDestination(d.ID) {
			ids = append(ids, d.ID)
		}
	}

	state := lifecycle.EventStateOf(event)
	logger := s.logger.With("event_id", eventID)

	if state.DestinationCount < 0 {
		ok, err := s.store.SetDestinationCount(ctx, eventID, len(ids))
		if err != nil {
			return fmt.Errorf("set destination count of %s: %w", eventID, err)
		}
		if !ok {
			return fmt.Errorf("event %s fanned out concurrently: %w", eventID, queue.ErrRetry)
		}
	} else if state.DestinationCount != len(ids) {
		// Destinations changed between runs; the first run's intents stand.
		logger.Warn("destination set changed since fan-out", "recorded", state.DestinationCount, "now", len(ids))
		return nil
	}

	_, effects := lifecycle.StepEvent(state, lifecycle.FannedOut{DestinationIDs: ids})
	logger.Debug("fanned out", "destinations", len(ids))
	return s.apply(ctx, effects)
}
