package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/metorial/signal/internal/queue"
)

// taskColumns is the column list returned by task claims.
const taskColumns = `id, type, payload, dedupe_key, status, attempts, last_error, run_at, locked_until, created_at`

// uniqueViolation is the Postgres error code for a unique index conflict.
const uniqueViolation = "23505"

// TaskBackend stores queue tasks in the tasks table.
type TaskBackend struct {
	db *sql.DB
}

// Compile-time check that TaskBackend implements queue.Backend.
var _ queue.Backend = (*TaskBackend)(nil)

// Tasks returns the queue backend sharing this store's connection pool.
func (s *PostgresStore) Tasks() *TaskBackend {
	return &TaskBackend{db: s.db}
}

// Push inserts the task, or replaces the payload and run time of a pending
// task with the same type and dedupe key.
func (b *TaskBackend) Push(ctx context.Context, t *queue.Task) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, payload, dedupe_key, status, run_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (type, dedupe_key) WHERE dedupe_key IS NOT NULL AND status = 'pending'
		DO UPDATE SET payload = EXCLUDED.payload, run_at = EXCLUDED.run_at, updated_at = NOW()`,
		t.ID, t.Type, []byte(t.Payload), nullString(t.DedupeKey), t.RunAt,
	)
	return err
}

// Claim leases runnable tasks. SKIP LOCKED lets concurrent workers claim
// disjoint batches without blocking each other.
func (b *TaskBackend) Claim(ctx context.Context, types []string, now time.Time, lease time.Duration, limit int) ([]*queue.Task, error) {
	rows, err := b.db.QueryContext(ctx, `
		UPDATE tasks
		SET status = 'running', attempts = attempts + 1, locked_until = $3, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE type = ANY($1)
				AND ((status = 'pending' AND run_at <= $2)
					OR (status = 'running' AND locked_until < $2))
			ORDER BY run_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		pq.Array(types), now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows, scanTask)
}

// Complete deletes the finished task.
func (b *TaskBackend) Complete(ctx context.Context, t *queue.Task) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, t.ID)
	return err
}

// Retry returns the task to pending. When a pending task with the same
// dedupe key was pushed while this one ran, the unique index rejects the
// update and this copy is dropped instead.
func (b *TaskBackend) Retry(ctx context.Context, t *queue.Task, runAt time.Time, reason string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'pending', run_at = $2, last_error = $3, locked_until = NULL, updated_at = NOW()
		WHERE id = $1`,
		t.ID, runAt, reason,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return b.Complete(ctx, t)
	}
	return err
}

// Bury marks the task dead; it stays in the table for inspection.
func (b *TaskBackend) Bury(ctx context.Context, t *queue.Task, reason string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'dead', last_error = $2, locked_until = NULL, updated_at = NOW()
		WHERE id = $1`,
		t.ID, reason,
	)
	return err
}
