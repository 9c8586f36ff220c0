package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/metorial/signal/internal/model"
)

// intentSelect reads intents together with the owning event's tenant.
const intentSelect = `
	SELECT i.id, e.tenant_id, i.event_id, i.destination_id, i.status, i.attempt_count,
		i.error_code, i.error_message, i.last_attempt_at, i.next_attempt_at,
		i.created_at, i.updated_at
	FROM intents i
	JOIN events e ON e.id = i.event_id`

// attemptSelect reads attempts together with their intent's event,
// destination and tenant.
const attemptSelect = `
	SELECT a.id, a.intent_id, e.tenant_id, i.event_id, i.destination_id, a.instance_id,
		a.status, a.attempt_number, a.duration_ms, a.response_status_code,
		a.error_code, a.error_message, a.created_at
	FROM attempts a
	JOIN intents i ON i.id = a.intent_id
	JOIN events e ON e.id = i.event_id`

func queryCreateIntent(ctx context.Context, db executor, in *model.Intent) (*model.Intent, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO intents (id, event_id, destination_id, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, destination_id) DO NOTHING`,
		in.ID, in.EventID, in.DestinationID, string(in.Status), nullTimePtr(in.NextAttemptAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert intent: %w", err)
	}
	row := db.QueryRowContext(ctx, intentSelect+` WHERE i.event_id = $1 AND i.destination_id = $2`,
		in.EventID, in.DestinationID)
	return scanIntent(row)
}

func queryGetIntent(ctx context.Context, db executor, id string) (*model.Intent, error) {
	row := db.QueryRowContext(ctx, intentSelect+` WHERE i.id = $1`, id)
	return scanIntent(row)
}

func queryListIntents(ctx context.Context, db executor, filter model.IntentFilter) ([]*model.Intent, error) {
	var w whereBuilder
	w.add("e.tenant_id = %s", filter.TenantID)
	if len(filter.EventIDs) > 0 {
		w.add("i.event_id = ANY(%s)", pq.Array(filter.EventIDs))
	}
	if len(filter.DestinationIDs) > 0 {
		w.add("i.destination_id = ANY(%s)", pq.Array(filter.DestinationIDs))
	}
	if len(filter.Status) > 0 {
		w.add("i.status = ANY(%s)", pq.Array(statusStrings(filter.Status)))
	}
	tail := w.page("i.id", filter.Page)

	rows, err := db.QueryContext(ctx, intentSelect+tail, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, scanIntent)
}

func queryScheduleIntentRetry(ctx context.Context, db executor, intentID string, nextAttemptAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE intents SET status = 'retrying', next_attempt_at = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('delivered', 'failed')`,
		intentID, nextAttemptAt,
	)
	return err
}

func queryResolveIntent(ctx context.Context, db executor, intentID string, status model.IntentStatus, errorCode, errorMessage string) (bool, error) {
	return changed(db.ExecContext(ctx, `
		UPDATE intents SET
			status = $2,
			error_code = $3,
			error_message = $4,
			next_attempt_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('delivered', 'failed')`,
		intentID, string(status), nullString(errorCode), nullString(errorMessage),
	))
}

func queryCloseEventIntents(ctx context.Context, db executor, eventID, errorCode, errorMessage string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE intents SET
			status = 'failed',
			error_code = $2,
			error_message = $3,
			next_attempt_at = NULL,
			updated_at = NOW()
		WHERE event_id = $1 AND status NOT IN ('delivered', 'failed')`,
		eventID, nullString(errorCode), nullString(errorMessage),
	)
	return err
}

// queryRecordAttempt must run inside a transaction: the guarded counter
// update and the insert succeed or fail together.
func queryRecordAttempt(ctx context.Context, db executor, a *model.Attempt) (bool, error) {
	ok, err := changed(db.ExecContext(ctx, `
		UPDATE intents SET attempt_count = $2, last_attempt_at = $3, updated_at = NOW()
		WHERE id = $1 AND attempt_count = $2 - 1 AND status NOT IN ('delivered', 'failed')`,
		a.IntentID, a.AttemptNumber, a.CreatedAt,
	))
	if err != nil || !ok {
		return false, err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO attempts (
			id, intent_id, instance_id, status, attempt_number, duration_ms,
			response_status_code, error_code, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID,
		a.IntentID,
		a.InstanceID,
		string(a.Status),
		a.AttemptNumber,
		a.DurationMs,
		nullIntPtr(a.ResponseStatusCode),
		nullString(a.ErrorCode),
		nullString(a.ErrorMessage),
		a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert attempt: %w", err)
	}
	return true, nil
}

func queryGetAttempt(ctx context.Context, db executor, id string) (*model.Attempt, error) {
	row := db.QueryRowContext(ctx, attemptSelect+` WHERE a.id = $1`, id)
	return scanAttempt(row)
}

func queryGetLatestAttempt(ctx context.Context, db executor, intentID string) (*model.Attempt, error) {
	row := db.QueryRowContext(ctx, attemptSelect+`
		WHERE a.intent_id = $1
		ORDER BY a.attempt_number DESC
		LIMIT 1`, intentID)
	return scanAttempt(row)
}

func queryListAttempts(ctx context.Context, db executor, filter model.AttemptFilter) ([]*model.Attempt, error) {
	var w whereBuilder
	w.add("e.tenant_id = %s", filter.TenantID)
	if len(filter.EventIDs) > 0 {
		w.add("i.event_id = ANY(%s)", pq.Array(filter.EventIDs))
	}
	if len(filter.IntentIDs) > 0 {
		w.add("a.intent_id = ANY(%s)", pq.Array(filter.IntentIDs))
	}
	if len(filter.DestinationIDs) > 0 {
		w.add("i.destination_id = ANY(%s)", pq.Array(filter.DestinationIDs))
	}
	if len(filter.Status) > 0 {
		w.add("a.status = ANY(%s)", pq.Array(statusStrings(filter.Status)))
	}
	tail := w.page("a.id", filter.Page)

	rows, err := db.QueryContext(ctx, attemptSelect+tail, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, scanAttempt)
}

func queryListAttemptIDsForEvent(ctx context.Context, db executor, eventID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT a.id FROM attempts a
		JOIN intents i ON i.id = a.intent_id
		WHERE i.event_id = $1`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts of event: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func statusStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
