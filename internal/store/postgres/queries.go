package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/metorial/signal/internal/model"
)

const tenantColumns = `id, identifier, name, created_at, updated_at`

const senderColumns = `id, tenant_id, identifier, name, created_at, updated_at`

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, tenant_id, sender_id, event_type, topics, payload, headers,
	only_for_destinations, status, destination_count, success_count, failure_count,
	payload_offloaded, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// whereBuilder accumulates AND-ed conditions with numbered placeholders.
type whereBuilder struct {
	clauses []string
	args    []any
}

// next reserves a placeholder for arg and returns it.
func (w *whereBuilder) next(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

// add appends a condition; each %s in format receives a placeholder for the
// corresponding arg.
func (w *whereBuilder) add(format string, args ...any) {
	ph := make([]any, len(args))
	for i, a := range args {
		ph[i] = w.next(a)
	}
	w.clauses = append(w.clauses, fmt.Sprintf(format, ph...))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends cursor and limit handling for id-descending pagination.
func (w *whereBuilder) page(col string, p model.Page) string {
	p = p.Normalize()
	if p.Cursor != "" {
		w.add(col+" < %s", p.Cursor)
	}
	return w.sql() + " ORDER BY " + col + " DESC LIMIT " + w.next(p.Limit)
}

// requireRow returns sql.ErrNoRows when res touched nothing.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func changed(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func queryUpsertTenant(ctx context.Context, db executor, t *model.Tenant) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO tenants (id, identifier, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (identifier) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		t.ID, t.Identifier, t.Name,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func queryGetTenant(ctx context.Context, db executor, idOrIdentifier string) (*model.Tenant, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE id = $1 OR identifier = $1
		ORDER BY (id = $1) DESC
		LIMIT 1`, idOrIdentifier)
	return scanTenant(row)
}

func queryUpsertSender(ctx context.Context, db executor, s *model.Sender) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO senders (id, tenant_id, identifier, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, identifier) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		s.ID, s.TenantID, s.Identifier, s.Name,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func queryGetSender(ctx context.Context, db executor, tenantID, idOrIdentifier string) (*model.Sender, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+senderColumns+` FROM senders
		WHERE tenant_id = $1 AND (id = $2 OR identifier = $2)
		ORDER BY (id = $2) DESC
		LIMIT 1`, tenantID, idOrIdentifier)
	return scanSender(row)
}

func queryCreateEvent(ctx context.Context, db executor, e *model.Event) error {
	headers, err := headersJSON(e.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	var only any
	if e.OnlyForDestinations != nil {
		only = pq.Array(e.OnlyForDestinations)
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO events (
			id, tenant_id, sender_id, event_type, topics, payload, headers,
			only_for_destinations, status, destination_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		e.ID,
		e.TenantID,
		e.SenderID,
		e.EventType,
		textArray(e.Topics),
		nullStringPtr(e.Payload),
		headers,
		only,
		string(e.Status),
		e.DestinationCount,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func queryGetEvent(ctx context.Context, db executor, id string) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

func queryListEvents(ctx context.Context, db executor, filter model.EventFilter) ([]*model.Event, error) {
	var w whereBuilder
	w.add("tenant_id = %s", filter.TenantID)
	if len(filter.EventTypes) > 0 {
		w.add("event_type = ANY(%s)", pq.Array(filter.EventTypes))
	}
	if len(filter.Topics) > 0 {
		w.add("topics && %s", pq.Array(filter.Topics))
	}
	if len(filter.SenderIDs) > 0 {
		w.add("sender_id = ANY(%s)", pq.Array(filter.SenderIDs))
	}
	tail := w.page("id", filter.Page)

	rows, err := db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events`+tail, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, scanEvent)
}

func querySetDestinationCount(ctx context.Context, db executor, eventID string, count int) (bool, error) {
	return changed(db.ExecContext(ctx, `
		UPDATE events
		SET destination_count = $2, success_count = 0, failure_count = 0, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND destination_count < 0`,
		eventID, count,
	))
}

func queryIncrementEventCounter(ctx context.Context, db executor, eventID string, succeeded bool) error {
	q := `UPDATE events SET failure_count = failure_count + 1, updated_at = NOW() WHERE id = $1`
	if succeeded {
		q = `UPDATE events SET success_count = success_count + 1, updated_at = NOW() WHERE id = $1`
	}
	res, err := db.ExecContext(ctx, q, eventID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func queryFinalizeEvent(ctx context.Context, db executor, eventID string, status model.EventStatus) (bool, error) {
	return changed(db.ExecContext(ctx, `
		UPDATE events SET status = $2, updated_at = NOW()
		WHERE id = $1
			AND status = 'pending'
			AND destination_count >= 0
			AND success_count + failure_count >= destination_count`,
		eventID, string(status),
	))
}

func queryScrubEventPayload(ctx context.Context, db executor, eventID string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE events
		SET payload = NULL, headers = NULL, payload_offloaded = TRUE, updated_at = NOW()
		WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func queryListEventIDsBefore(ctx context.Context, db executor, before time.Time, cursor string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM events
		WHERE created_at < $1 AND ($2 = '' OR id < $2)
		ORDER BY id DESC
		LIMIT $3`,
		before, cursor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired events: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func queryPurgeEvent(ctx context.Context, db executor, eventID string) error {
	for _, q := range []string{
		`DELETE FROM attempts WHERE intent_id IN (SELECT id FROM intents WHERE event_id = $1)`,
		`DELETE FROM intents WHERE event_id = $1`,
		`DELETE FROM events WHERE id = $1`,
	} {
		if _, err := db.ExecContext(ctx, q, eventID); err != nil {
			return fmt.Errorf("purge event %s: %w", eventID, err)
		}
	}
	return nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
