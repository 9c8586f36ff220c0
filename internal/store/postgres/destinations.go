package postgres

import (
	"context"
	"fmt"

	"github.com/metorial/signal/internal/model"
)

// destinationSelect joins each destination with its current instance and
// webhook, in the column order scanDestination expects.
const destinationSelect = `
	SELECT d.id, d.tenant_id, d.sender_id, d.name, d.description, d.type, d.status,
		d.event_types, d.retry_type, d.retry_delay_seconds, d.retry_max_attempts,
		d.current_instance_id, d.created_at, d.updated_at, d.deleted_at,
		i.id, i.type, i.webhook_id, i.created_at,
		w.id, w.tenant_id, w.url, w.method, w.signing_secret, w.created_at
	FROM destinations d
	LEFT JOIN destination_instances i ON i.id = d.current_instance_id
	LEFT JOIN webhooks w ON w.id = i.webhook_id`

func queryCreateWebhook(ctx context.Context, db executor, w *model.Webhook) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO webhooks (id, tenant_id, url, method, signing_secret)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		w.ID, w.TenantID, w.URL, string(w.Method), w.SigningSecret,
	).Scan(&w.CreatedAt)
}

func queryCreateDestination(ctx context.Context, db executor, d *model.Destination) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO destinations (
			id, tenant_id, sender_id, name, description, type, status, event_types,
			retry_type, retry_delay_seconds, retry_max_attempts, current_instance_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		d.ID,
		d.TenantID,
		d.SenderID,
		d.Name,
		nullString(d.Description),
		string(d.Type),
		string(d.Status),
		textArray(d.EventTypes),
		string(d.Retry.Type),
		d.Retry.DelaySeconds,
		d.Retry.MaxAttempts,
		nullString(d.CurrentInstanceID),
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func queryCreateInstance(ctx context.Context, db executor, inst *model.Instance) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO destination_instances (id, destination_id, type, webhook_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		inst.ID, inst.DestinationID, string(inst.Type), nullString(inst.WebhookID),
	).Scan(&inst.CreatedAt)
}

func queryUpdateDestination(ctx context.Context, db executor, d *model.Destination) error {
	return db.QueryRowContext(ctx, `
		UPDATE destinations SET
			name = $2,
			description = $3,
			status = $4,
			event_types = $5,
			retry_type = $6,
			retry_delay_seconds = $7,
			retry_max_attempts = $8,
			current_instance_id = $9,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		d.ID,
		d.Name,
		nullString(d.Description),
		string(d.Status),
		textArray(d.EventTypes),
		string(d.Retry.Type),
		d.Retry.DelaySeconds,
		d.Retry.MaxAttempts,
		nullString(d.CurrentInstanceID),
	).Scan(&d.UpdatedAt)
}

// queryGetDestination also returns soft-deleted rows so in-flight deliveries
// can see that their destination is gone.
func queryGetDestination(ctx context.Context, db executor, id string) (*model.Destination, error) {
	row := db.QueryRowContext(ctx, destinationSelect+` WHERE d.id = $1`, id)
	return scanDestination(row)
}

func queryListDestinations(ctx context.Context, db executor, filter model.DestinationFilter) ([]*model.Destination, error) {
	var w whereBuilder
	w.add("d.tenant_id = %s", filter.TenantID)
	w.clauses = append(w.clauses, "d.deleted_at IS NULL")
	tail := w.page("d.id", filter.Page)

	rows, err := db.QueryContext(ctx, destinationSelect+tail, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, scanDestination)
}

func queryListActiveDestinations(ctx context.Context, db executor, tenantID, senderID, eventType string) ([]*model.Destination, error) {
	rows, err := db.QueryContext(ctx, destinationSelect+`
		WHERE d.tenant_id = $1
			AND d.sender_id = $2
			AND d.status = 'active'
			AND d.deleted_at IS NULL
			AND (cardinality(d.event_types) = 0 OR $3 = ANY(d.event_types))
		ORDER BY d.id`,
		tenantID, senderID, eventType,
	)
	if err != nil {
		return nil, fmt.Errorf("list active destinations: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, scanDestination)
}

func queryDeleteDestination(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE destinations
		SET status = 'inactive', deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}
