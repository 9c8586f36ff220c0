package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/metorial/signal/internal/config"
	"github.com/metorial/signal/internal/delivery"
	"github.com/metorial/signal/internal/events"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/queue"
	"github.com/metorial/signal/internal/store/postgres"
	"github.com/metorial/signal/internal/ui"
)

const bucketRetryInterval = 5 * time.Second

// newLogger returns a text logger on a terminal and a JSON logger otherwise.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if ui.IsTerminal(os.Stderr) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}

// runtime holds the collaborators shared by serve, worker and sweep.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *postgres.PostgresStore
	objects    objects.Store
	queue      *queue.Queue
	delivery   *delivery.Service
	publisher  events.Publisher
	subscriber events.Subscriber
}

// openRuntime loads the configuration and connects to Postgres, object
// storage and, when configured, NATS. Call startDelivery before using the
// queue or the delivery service.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if rt.store, err = postgres.New(cfg.DatabaseURL); err != nil {
		return nil, err
	}

	s3, err := objects.NewS3Store(ctx, cfg.LogsBucket, cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		return nil, err
	}
	if err := objects.InitBucket(ctx, s3, bucketRetryInterval, logger); err != nil {
		return nil, fmt.Errorf("init bucket %s: %w", cfg.LogsBucket, err)
	}
	rt.objects = s3

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		rt.publisher = pub
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		rt.subscriber = sub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		logger.Info("events disabled (SIGNAL_NATS_URL not set)")
	}

	ok = true
	return rt, nil
}

// startDelivery creates the task queue and the delivery service. Lifecycle
// notifications go to NATS when it is configured and to local otherwise;
// local may be nil.
func (rt *runtime) startDelivery(local events.Publisher) {
	notify := rt.publisher
	if notify == nil {
		notify = local
	}
	rt.queue = queue.New(rt.store.Tasks(), queue.Config{
		Concurrency:  rt.cfg.WorkerConcurrency,
		PollInterval: rt.cfg.PollInterval,
		Logger:       rt.logger,
		Publisher:    rt.publisher,
		Subscriber:   rt.subscriber,
	})
	rt.delivery = delivery.New(delivery.Config{
		Store:     rt.store,
		Objects:   rt.objects,
		Queue:     rt.queue,
		Publisher: notify,
		Logger:    rt.logger,
		Retention: rt.cfg.Retention(),
	})
	rt.delivery.Register(rt.queue)
}

// startWorker runs the task queue and the retention sweep schedule until ctx
// is done. The returned channel is closed once in-flight tasks finished.
func (rt *runtime) startWorker(ctx context.Context) (<-chan struct{}, error) {
	sweeps, err := rt.delivery.StartSweepSchedule(ctx, rt.cfg.CleanupCron)
	if err != nil {
		return nil, err
	}
	rt.logger.Info("retention sweep scheduled", "cron", rt.cfg.CleanupCron, "retention", rt.cfg.Retention())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rt.queue.Run(ctx); err != nil {
			rt.logger.Error("queue stopped", "err", err)
		}
		<-sweeps.Stop().Done()
	}()
	return done, nil
}

// Close releases every connection opened by openRuntime.
func (rt *runtime) Close() {
	if rt.subscriber != nil {
		if err := rt.subscriber.Close(); err != nil {
			rt.logger.Error("error closing subscriber", "err", err)
		}
	}
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			rt.logger.Error("error closing publisher", "err", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Error("error closing store", "err", err)
		}
	}
}
