package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/queue"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanAll drains rows through scan.
func scanAll[T any](rows *sql.Rows, scan func(scannable) (*T, error)) ([]*T, error) {
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanTenant scans a row in tenantColumns order.
func scanTenant(row scannable) (*model.Tenant, error) {
	var t model.Tenant
	if err := row.Scan(&t.ID, &t.Identifier, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// scanSender scans a row in senderColumns order.
func scanSender(row scannable) (*model.Sender, error) {
	var s model.Sender
	if err := row.Scan(&s.ID, &s.TenantID, &s.Identifier, &s.Name, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// scanEvent scans a row in eventColumns order.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		payload sql.NullString
		headers []byte
	)

	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.SenderID,
		&e.EventType,
		pq.Array(&e.Topics),
		&payload,
		&headers,
		pq.Array(&e.OnlyForDestinations),
		&e.Status,
		&e.DestinationCount,
		&e.SuccessCount,
		&e.FailureCount,
		&e.PayloadOffloaded,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		p := payload.String
		e.Payload = &p
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &e.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of event %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// scanDestination scans a row in destinationColumns order, followed by the
// optional current instance and webhook columns.
func scanDestination(row scannable) (*model.Destination, error) {
	var d model.Destination
	var (
		description sql.NullString
		currentID   sql.NullString
		deletedAt   sql.NullTime

		instID, instType, instWebhookID sql.NullString
		instCreatedAt                   sql.NullTime

		hookID, hookTenantID, hookURL, hookMethod, hookSecret sql.NullString
		hookCreatedAt                                         sql.NullTime
	)

	err := row.Scan(
		&d.ID,
		&d.TenantID,
		&d.SenderID,
		&d.Name,
		&description,
		&d.Type,
		&d.Status,
		pq.Array(&d.EventTypes),
		&d.Retry.Type,
		&d.Retry.DelaySeconds,
		&d.Retry.MaxAttempts,
		&currentID,
		&d.CreatedAt,
		&d.UpdatedAt,
		&deletedAt,
		&instID,
		&instType,
		&instWebhookID,
		&instCreatedAt,
		&hookID,
		&hookTenantID,
		&hookURL,
		&hookMethod,
		&hookSecret,
		&hookCreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Description = description.String
	d.CurrentInstanceID = currentID.String
	d.DeletedAt = timePtr(deletedAt)

	if instID.Valid {
		d.CurrentInstance = &model.Instance{
			ID:            instID.String,
			DestinationID: d.ID,
			Type:          model.DestinationType(instType.String),
			WebhookID:     instWebhookID.String,
			CreatedAt:     instCreatedAt.Time,
		}
		if hookID.Valid {
			d.CurrentInstance.Webhook = &model.Webhook{
				ID:            hookID.String,
				TenantID:      hookTenantID.String,
				URL:           hookURL.String,
				Method:        model.WebhookMethod(hookMethod.String),
				SigningSecret: hookSecret.String,
				CreatedAt:     hookCreatedAt.Time,
			}
		}
	}
	return &d, nil
}

// scanIntent scans a row in intentColumns order.
func scanIntent(row scannable) (*model.Intent, error) {
	var i model.Intent
	var (
		errorCode     sql.NullString
		errorMessage  sql.NullString
		lastAttemptAt sql.NullTime
		nextAttemptAt sql.NullTime
	)

	err := row.Scan(
		&i.ID,
		&i.TenantID,
		&i.EventID,
		&i.DestinationID,
		&i.Status,
		&i.AttemptCount,
		&errorCode,
		&errorMessage,
		&lastAttemptAt,
		&nextAttemptAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.ErrorCode = errorCode.String
	i.ErrorMessage = errorMessage.String
	i.LastAttemptAt = timePtr(lastAttemptAt)
	i.NextAttemptAt = timePtr(nextAttemptAt)
	return &i, nil
}

// scanAttempt scans a row in attemptColumns order.
func scanAttempt(row scannable) (*model.Attempt, error) {
	var a model.Attempt
	var (
		statusCode   sql.NullInt64
		errorCode    sql.NullString
		errorMessage sql.NullString
	)

	err := row.Scan(
		&a.ID,
		&a.IntentID,
		&a.TenantID,
		&a.EventID,
		&a.DestinationID,
		&a.InstanceID,
		&a.Status,
		&a.AttemptNumber,
		&a.DurationMs,
		&statusCode,
		&errorCode,
		&errorMessage,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if statusCode.Valid {
		c := int(statusCode.Int64)
		a.ResponseStatusCode = &c
	}
	a.ErrorCode = errorCode.String
	a.ErrorMessage = errorMessage.String
	return &a, nil
}

// scanTask scans a row in taskColumns order.
func scanTask(row scannable) (*queue.Task, error) {
	var t queue.Task
	var (
		payload     []byte
		dedupeKey   sql.NullString
		lastError   sql.NullString
		lockedUntil sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.Type,
		&payload,
		&dedupeKey,
		&t.Status,
		&t.Attempts,
		&lastError,
		&t.RunAt,
		&lockedUntil,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Payload = json.RawMessage(payload)
	t.DedupeKey = dedupeKey.String
	t.LastError = lastError.String
	t.LockedUntil = lockedUntil.Time
	return &t, nil
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts sql.NullTime back to a *time.Time.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullString converts a string to sql.NullString, treating "" as NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringPtr converts a *string to sql.NullString.
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullIntPtr converts a *int to sql.NullInt64.
func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// textArray returns a value for a NOT NULL text[] column; nil becomes '{}'.
func textArray(v []string) any {
	if v == nil {
		v = []string{}
	}
	return pq.Array(v)
}

// headersJSON encodes headers for the JSONB column; no headers is NULL.
func headersJSON(h []model.Header) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return json.Marshal(h)
}
