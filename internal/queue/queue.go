// Package queue runs durable background tasks. Tasks are stored by a Backend,
// claimed with a lease, and retried with exponential backoff until they
// succeed or exhaust their attempts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/metorial/signal/internal/events"
	"github.com/metorial/signal/internal/idgen"
	"github.com/metorial/signal/internal/retry"
)

// ErrRetry marks a handler failure as transient: the row it needs is not
// visible yet, or a dependency is briefly unavailable.
var ErrRetry = errors.New("queue: retry later")

// Status is the storage state of a task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDead    Status = "dead"
)

// Task is a single unit of background work.
type Task struct {
	ID          string
	Type        string
	Payload     json.RawMessage
	DedupeKey   string
	Status      Status
	Attempts    int
	LastError   string
	RunAt       time.Time
	LockedUntil time.Time
	CreatedAt   time.Time
}

// Backend stores tasks.
type Backend interface {
	// Push stores t as pending. When a pending task with the same type and
	// non-empty dedupe key exists, it is replaced: payload and run time take
	// the values from t.
	Push(ctx context.Context, t *Task) error
	// Claim leases up to limit runnable tasks of the given types and
	// increments their attempt counters. Running tasks whose lease expired
	// are runnable again.
	Claim(ctx context.Context, types []string, now time.Time, lease time.Duration, limit int) ([]*Task, error)
	Complete(ctx context.Context, t *Task) error
	// Retry puts t back to pending at runAt. If a pending replacement with the
	// same dedupe key was pushed meanwhile, t is dropped in its favour.
	Retry(ctx context.Context, t *Task, runAt time.Time, reason string) error
	Bury(ctx context.Context, t *Task, reason string) error
}

// Options control a single Enqueue call.
type Options struct {
	Delay     time.Duration
	DedupeKey string
}

// Enqueuer submits tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any, opts Options) error
}

// Handler processes one task payload. Returning nil completes the task; any
// error schedules a retry.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Config holds runner settings. Zero values select the defaults.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	MaxAttempts  int
	// RetryBaseDelay and RetryMaxDelay bound the backoff between attempts.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	Logger     *slog.Logger
	Publisher  events.Publisher
	Subscriber events.Subscriber
	Now        func() time.Time
}

// Defaults for Config.
const (
	DefaultConcurrency    = 10
	DefaultPollInterval   = time.Second
	DefaultLease          = 5 * time.Minute
	DefaultMaxAttempts    = 25
	DefaultRetryBaseDelay = 5 * time.Second
	DefaultRetryMaxDelay  = time.Hour
)

func (c *Config) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Publisher == nil {
		c.Publisher = &events.NoopPublisher{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Queue submits tasks to a Backend and runs the registered handlers.
type Queue struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	wake chan struct{}
}

// Compile-time check that Queue implements Enqueuer.
var _ Enqueuer = (*Queue)(nil)

// New creates a Queue over backend.
func New(backend Backend, cfg Config) *Queue {
	cfg.setDefaults()
	return &Queue{
		backend:  backend,
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue stores a task of taskType with the JSON encoding of payload.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload any, opts Options) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	id, err := idgen.GenerateWithPrefix(idgen.PrefixTask)
	if err != nil {
		return err
	}
	now := q.cfg.Now()
	t := &Task{
		ID:        id,
		Type:      taskType,
		Payload:   data,
		DedupeKey: opts.DedupeKey,
		Status:    StatusPending,
		RunAt:     now.Add(opts.Delay),
		CreatedAt: now,
	}
	if err := q.backend.Push(ctx, t); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	if opts.Delay <= 0 {
		q.poke()
		if err := q.cfg.Publisher.Publish(ctx, events.TaskTopic(taskType), events.TaskReady{Type: taskType, RunAt: t.RunAt}); err != nil {
			q.logger.Warn("publish task wake-up", "type", taskType, "err", err)
		}
	}
	return nil
}

// Process registers h for tasks of taskType. Registering twice replaces the
// previous handler.
func (q *Queue) Process(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

func (q *Queue) types() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	types := make([]string, 0, len(q.handlers))
	for t := range q.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

func (q *Queue) handler(taskType string) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[taskType]
}

func (q *Queue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run claims and executes tasks until ctx is cancelled, then waits for
// in-flight tasks to finish.
func (q *Queue) Run(ctx context.Context) error {
	types := q.types()
	if len(types) == 0 {
		return errors.New("queue: no handlers registered")
	}

	if q.cfg.Subscriber != nil {
		ch, cancel, err := q.cfg.Subscriber.Subscribe(events.TopicTasksAll)
		if err != nil {
			q.logger.Warn("task wake-ups unavailable, polling only", "err", err)
		} else {
			defer cancel()
			go func() {
				for range ch {
					q.poke()
				}
			}()
		}
	}

	q.logger.Info("queue started", "types", types, "concurrency", q.cfg.Concurrency, "poll", q.cfg.PollInterval)

	sem := make(chan struct{}, q.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		free := cap(sem) - len(sem)
		claimed := 0
		if free > 0 {
			tasks, err := q.backend.Claim(ctx, types, q.cfg.Now(), q.cfg.Lease, free)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				q.logger.Error("claim tasks", "err", err)
			}
			for _, t := range tasks {
				sem <- struct{}{}
				wg.Add(1)
				go func() {
					defer func() {
						<-sem
						wg.Done()
						q.poke()
					}()
					q.execute(ctx, t)
				}()
			}
			claimed = len(tasks)
		}

		// A full batch suggests more work is waiting.
		if claimed > 0 && claimed == free {
			continue
		}

		select {
		case <-ctx.Done():
			q.logger.Info("queue stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// Drain runs every task that is runnable now, including tasks enqueued by
// the handlers it runs, and returns how many it executed. Delayed tasks are
// left alone.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	types := q.types()
	total := 0
	for {
		tasks, err := q.backend.Claim(ctx, types, q.cfg.Now(), q.cfg.Lease, q.cfg.Concurrency)
		if err != nil {
			return total, fmt.Errorf("claim tasks: %w", err)
		}
		if len(tasks) == 0 {
			return total, nil
		}
		for _, t := range tasks {
			q.execute(ctx, t)
		}
		total += len(tasks)
	}
}

// execute runs one claimed task. The handler context survives runner
// shutdown so in-flight work can finish within its lease.
func (q *Queue) execute(ctx context.Context, t *Task) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.Lease)
	defer cancel()

	logger := q.logger.With("task_id", t.ID, "type", t.Type, "attempt", t.Attempts)

	h := q.handler(t.Type)
	if h == nil {
		if err := q.backend.Bury(taskCtx, t, "no handler registered"); err != nil {
			logger.Error("bury task", "err", err)
		}
		return
	}

	start := q.cfg.Now()
	err := safeCall(taskCtx, h, t.Payload)
	if err == nil {
		if err := q.backend.Complete(taskCtx, t); err != nil {
			logger.Error("complete task", "err", err)
		}
		logger.Debug("task done", "duration", q.cfg.Now().Sub(start))
		return
	}

	if t.Attempts >= q.cfg.MaxAttempts {
		logger.Error("task failed permanently", "err", err)
		if err := q.backend.Bury(taskCtx, t, err.Error()); err != nil {
			logger.Error("bury task", "err", err)
		}
		return
	}

	delay := q.backoff(t.Attempts)
	if errors.Is(err, ErrRetry) {
		logger.Debug("task deferred", "err", err, "delay", delay)
	} else {
		logger.Warn("task failed, will retry", "err", err, "delay", delay)
	}
	if err := q.backend.Retry(taskCtx, t, q.cfg.Now().Add(delay), err.Error()); err != nil {
		logger.Error("reschedule task", "err", err)
	}
}

func (q *Queue) backoff(attempt int) time.Duration {
	secs := retry.Delay(retry.Params{
		BaseDelaySeconds: int(q.cfg.RetryBaseDelay / time.Second),
		AttemptNumber:    attempt,
		Type:             retry.Exponential,
		MinDelaySeconds:  int(q.cfg.RetryBaseDelay / time.Second),
		MaxDelaySeconds:  int(q.cfg.RetryMaxDelay / time.Second),
	})
	return time.Duration(secs) * time.Second
}

func safeCall(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}

// Typed adapts fn to a Handler that first decodes the payload into T.
func Typed[T any](fn func(context.Context, T) error) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return fn(ctx, v)
	}
}
