package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/queue"
	"github.com/metorial/signal/internal/store"
)

// DefaultCleanupSchedule runs the retention sweep daily at midnight UTC.
const DefaultCleanupSchedule = "0 0 * * *"

// CleanupEvent closes out a finalized event: leftover intents are failed and
// the payload moves to object storage.
func (s *Service) CleanupEvent(ctx context.Context, eventID string) error {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return transient(err, "event", eventID)
	}
	if !event.Status.IsTerminal() {
		return nil
	}

	err = s.store.CloseEventIntents(ctx, eventID, model.ErrorCodeEventFinalized, "event finalized before delivery completed")
	if err != nil {
		return fmt.Errorf("close intents of %s: %w", eventID, err)
	}

	if event.PayloadOffloaded {
		return nil
	}
	data := objects.EventData{Body: event.Payload, Headers: event.Headers}
	if err := objects.PutJSON(ctx, s.objects, objects.EventKey(eventID), data); err != nil {
		return fmt.Errorf("offload payload of %s: %w", eventID, err)
	}
	if err := s.store.ScrubEventPayload(ctx, eventID); err != nil {
		return fmt.Errorf("scrub payload of %s: %w", eventID, err)
	}
	s.logger.Debug("event payload offloaded", "event_id", eventID)
	return nil
}

// ScheduleSweep queues a retention search for events older than the
// retention window. Calls on the same day collapse into one search.
func (s *Service) ScheduleSweep(ctx context.Context) error {
	before := s.now().Add(-s.retention).UTC()
	return s.queue.Enqueue(ctx, lifecycle.TaskCleanupSearch, lifecycle.CleanupSearch{Before: before},
		queue.Options{DedupeKey: before.Format(time.DateOnly)})
}

// SearchExpired queues a purge for one page of expired events and, when the
// page was full, the search for the next page.
func (s *Service) SearchExpired(ctx context.Context, in lifecycle.CleanupSearch) error {
	ids, err := s.store.ListEventIDsBefore(ctx, in.Before, in.Cursor, CleanupPageSize)
	if err != nil {
		return fmt.Errorf("list expired events: %w", err)
	}
	for _, id := range ids {
		err := s.queue.Enqueue(ctx, lifecycle.TaskCleanupEvent, lifecycle.EventRef{EventID: id}, queue.Options{DedupeKey: id})
		if err != nil {
			return err
		}
	}
	s.logger.Debug("retention page", "before", in.Before, "cursor", in.Cursor, "events", len(ids))

	if len(ids) < CleanupPageSize {
		return nil
	}
	next := lifecycle.CleanupSearch{Before: in.Before, Cursor: ids[len(ids)-1]}
	return s.queue.Enqueue(ctx, lifecycle.TaskCleanupSearch, next, queue.Options{DedupeKey: next.Cursor})
}

// PurgeEvent deletes an expired event's stored objects and then its rows.
// An event that is already gone is not an error.
func (s *Service) PurgeEvent(ctx context.Context, eventID string) error {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load event %s: %w", eventID, err)
	}

	attemptIDs, err := s.store.ListAttemptIDsForEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("list attempts of %s: %w", eventID, err)
	}

	keys := make([]string, 0, len(attemptIDs)+1)
	keys = append(keys, objects.EventKey(eventID))
	for _, id := range attemptIDs {
		keys = append(keys, objects.AttemptKey(id))
	}
	for _, k := range keys {
		if err := s.objects.DeleteObject(ctx, k); err != nil {
			return fmt.Errorf("delete object %s: %w", k, err)
		}
	}

	if err := s.store.PurgeEvent(ctx, eventID); err != nil {
		return fmt.Errorf("purge event %s: %w", eventID, err)
	}
	s.logger.Info("event purged", "event_id", eventID, "attempts", len(attemptIDs))
	return nil
}

// StartSweepSchedule runs ScheduleSweep on the cron schedule until the
// returned cron is stopped.
func (s *Service) StartSweepSchedule(ctx context.Context, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		if err := s.ScheduleSweep(ctx); err != nil {
			s.logger.Error("schedule retention sweep", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}
