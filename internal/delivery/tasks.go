package delivery

import (
	"context"

	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/queue"
)

// Processor registers task handlers. *queue.Queue satisfies it.
type Processor interface {
	Process(taskType string, h queue.Handler)
}

// Register installs a handler for every delivery task type.
func (s *Service) Register(p Processor) {
	p.Process(lifecycle.TaskEventNew, queue.Typed(func(ctx context.Context, in lifecycle.EventRef) error {
		return s.OnNewEvent(ctx, in.EventID)
	}))
	p.Process(lifecycle.TaskIntentCreate, queue.Typed(func(ctx context.Context, in lifecycle.IntentCreate) error {
		return s.CreateIntent(ctx, in.EventID, in.DestinationID)
	}))
	p.Process(lifecycle.TaskIntentAttempt, queue.Typed(func(ctx context.Context, in lifecycle.IntentRef) error {
		return s.Attempt(ctx, in.IntentID)
	}))
	p.Process(lifecycle.TaskIntentSucceeded, queue.Typed(s.OnSucceeded))
	p.Process(lifecycle.TaskIntentFailed, queue.Typed(s.OnFailed))
	p.Process(lifecycle.TaskIntentResolved, queue.Typed(func(ctx context.Context, in lifecycle.IntentRef) error {
		return s.OnIntentResolved(ctx, in.IntentID)
	}))
	p.Process(lifecycle.TaskEventSucceeded, queue.Typed(func(ctx context.Context, in lifecycle.EventRef) error {
		return s.Finalize(ctx, in.EventID, model.EventDelivered)
	}))
	p.Process(lifecycle.TaskEventFailed, queue.Typed(func(ctx context.Context, in lifecycle.EventRef) error {
		return s.Finalize(ctx, in.EventID, model.EventFailed)
	}))
	p.Process(lifecycle.TaskEventCleanup, queue.Typed(func(ctx context.Context, in lifecycle.EventRef) error {
		return s.CleanupEvent(ctx, in.EventID)
	}))
	p.Process(lifecycle.TaskCleanupSearch, queue.Typed(s.SearchExpired))
	p.Process(lifecycle.TaskCleanupEvent, queue.Typed(func(ctx context.Context, in lifecycle.EventRef) error {
		return s.PurgeEvent(ctx, in.EventID)
	}))
}
