// Package delivery runs the event delivery pipeline: fan-out, per-destination
// intents, signed HTTP attempts with retry, completion aggregation and
// payload cleanup. Every step is a queue task; state lives in the store.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/metorial/signal/internal/events"
	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/queue"
	"github.com/metorial/signal/internal/ssrf"
	"github.com/metorial/signal/internal/store"
)

// Outbound request settings.
const (
	RequestTimeout  = 10 * time.Second
	MaxRedirects    = 5
	MaxResponseBody = 10_000

	UserAgent       = "Metorial (https://metorial.com)"
	ProtocolVersion = "2025-01-01"
)

// Defaults for Config.
const (
	DefaultRetention      = 14 * 24 * time.Hour
	DefaultSenderCacheTTL = time.Minute
	CleanupPageSize       = 100
)

// Config wires a Service to its collaborators.
type Config struct {
	Store     store.Store
	Objects   objects.Store
	Queue     queue.Enqueuer
	Publisher events.Publisher

	// Client sends webhook requests. Defaults to an SSRF-filtering client.
	Client *http.Client
	Logger *slog.Logger
	Now    func() time.Time

	Retention      time.Duration
	SenderCacheTTL time.Duration
}

// Service implements the delivery task handlers and the operations the API
// needs to feed them.
type Service struct {
	store     store.Store
	objects   objects.Store
	queue     queue.Enqueuer
	publisher events.Publisher
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration
	senders   *senderCache
}

// New creates a Service. Store, Objects and Queue are required.
func New(cfg Config) *Service {
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Client == nil {
		cfg.Client = ssrf.NewClient(RequestTimeout, MaxRedirects)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SenderCacheTTL <= 0 {
		cfg.SenderCacheTTL = DefaultSenderCacheTTL
	}
	return &Service{
		store:     cfg.Store,
		objects:   cfg.Objects,
		queue:     cfg.Queue,
		publisher: cfg.Publisher,
		client:    cfg.Client,
		logger:    cfg.Logger,
		now:       cfg.Now,
		retention: cfg.Retention,
		senders:   newSenderCache(cfg.Store, cfg.SenderCacheTTL, cfg.Now),
	}
}

// apply submits the tasks produced by a state transition.
func (s *Service) apply(ctx context.Context, effects []lifecycle.Effect) error {
	for _, e := range effects {
		opts := queue.Options{Delay: e.Delay, DedupeKey: e.DedupeKey}
		if err := s.queue.Enqueue(ctx, e.Task, e.Payload, opts); err != nil {
			return err
		}
	}
	return nil
}

// publish emits a lifecycle notification. Failures are logged only.
func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("publish lifecycle event", "topic", topic, "err", err)
	}
}

// transient marks a failed load as retryable. A missing row is expected
// while writes from an earlier step become visible.
func transient(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s not found: %w", what, id, queue.ErrRetry)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func intentState(i *model.Intent) lifecycle.IntentState {
	return lifecycle.IntentState{ID: i.ID, Status: i.Status, AttemptCount: i.AttemptCount}
}
