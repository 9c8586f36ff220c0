package delivery

import (
	"context"
	"fmt"

	"github.com/metorial/signal/internal/idgen"
	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/queue"
)

// SubmitEvent validates and stores a new event, then queues its fan-out.
// TenantID and SenderID must already be resolved.
func (s *Service) SubmitEvent(ctx context.Context, e *model.Event) error {
	if err := model.ValidateEvent(e); err != nil {
		return err
	}

	id, err := idgen.GenerateWithPrefix(idgen.PrefixEvent)
	if err != nil {
		return err
	}
	e.ID = id
	e.Status = model.EventPending
	e.DestinationCount = model.UnresolvedDestinationCount
	e.SuccessCount, e.FailureCount = 0, 0
	if e.Topics == nil {
		e.Topics = []string{}
	}

	if err := s.store.CreateEvent(ctx, e); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	err = s.queue.Enqueue(ctx, lifecycle.TaskEventNew, lifecycle.EventRef{EventID: e.ID}, queue.Options{DedupeKey: e.ID})
	if err != nil {
		return fmt.Errorf("queue fan-out of %s: %w", e.ID, err)
	}

	s.logger.Debug("event accepted", "event_id", e.ID, "event_type", e.EventType)
	return nil
}
