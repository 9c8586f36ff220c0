// Package objects stores event payloads and attempt responses out of the
// relational database once they are no longer needed on the hot path.
package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metorial/signal/internal/model"
)

// ErrNotFound is returned by GetObject when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a bucket-scoped key/value blob store.
type Store interface {
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	// DeleteObject succeeds when the key is already absent.
	DeleteObject(ctx context.Context, key string) error
	// UpsertBucket creates the bucket if it does not exist.
	UpsertBucket(ctx context.Context) error
}

// EventKey is where an event's offloaded request lives.
func EventKey(eventID string) string {
	return "events/" + eventID + "/data"
}

// AttemptKey is where an attempt's response or error lives.
func AttemptKey(attemptID string) string {
	return "attempts/" + attemptID + "/data"
}

// EventData is the offloaded form of an event's payload.
type EventData struct {
	Body    *string        `json:"body"`
	Headers []model.Header `json:"headers"`
}

// AttemptData is the captured response of one delivery attempt.
type AttemptData struct {
	Body    string         `json:"body"`
	Headers []model.Header `json:"headers"`
	Error   string         `json:"error,omitempty"`
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.PutObject(ctx, key, data)
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.GetObject(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// InitBucket calls UpsertBucket until it succeeds or ctx ends, waiting
// interval between tries.
func InitBucket(ctx context.Context, s Store, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		err := s.UpsertBucket(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("object storage bucket init failed, retrying", "err", err, "in", interval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
