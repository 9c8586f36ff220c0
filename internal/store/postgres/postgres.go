// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertTenant(ctx context.Context, tenant *model.Tenant) error {
	return queryUpsertTenant(ctx, s.db, tenant)
}

func (s *PostgresStore) GetTenant(ctx context.Context, idOrIdentifier string) (*model.Tenant, error) {
	return queryGetTenant(ctx, s.db, idOrIdentifier)
}

func (s *PostgresStore) UpsertSender(ctx context.Context, sender *model.Sender) error {
	return queryUpsertSender(ctx, s.db, sender)
}

func (s *PostgresStore) GetSender(ctx context.Context, tenantID, idOrIdentifier string) (*model.Sender, error) {
	return queryGetSender(ctx, s.db, tenantID, idOrIdentifier)
}

func (s *PostgresStore) CreateEvent(ctx context.Context, event *model.Event) error {
	return queryCreateEvent(ctx, s.db, event)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return queryGetEvent(ctx, s.db, id)
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	return queryListEvents(ctx, s.db, filter)
}

func (s *PostgresStore) SetDestinationCount(ctx context.Context, eventID string, count int) (bool, error) {
	return querySetDestinationCount(ctx, s.db, eventID, count)
}

func (s *PostgresStore) IncrementEventCounter(ctx context.Context, eventID string, succeeded bool) error {
	return queryIncrementEventCounter(ctx, s.db, eventID, succeeded)
}

func (s *PostgresStore) FinalizeEvent(ctx context.Context, eventID string, status model.EventStatus) (bool, error) {
	return queryFinalizeEvent(ctx, s.db, eventID, status)
}

func (s *PostgresStore) ScrubEventPayload(ctx context.Context, eventID string) error {
	return queryScrubEventPayload(ctx, s.db, eventID)
}

func (s *PostgresStore) ListEventIDsBefore(ctx context.Context, before time.Time, cursor string, limit int) ([]string, error) {
	return queryListEventIDsBefore(ctx, s.db, before, cursor, limit)
}

// PurgeEvent deletes the event's rows in one transaction.
func (s *PostgresStore) PurgeEvent(ctx context.Context, eventID string) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.PurgeEvent(ctx, eventID)
	})
}

func (s *PostgresStore) CreateWebhook(ctx context.Context, webhook *model.Webhook) error {
	return queryCreateWebhook(ctx, s.db, webhook)
}

func (s *PostgresStore) CreateDestination(ctx context.Context, dest *model.Destination) error {
	return queryCreateDestination(ctx, s.db, dest)
}

func (s *PostgresStore) CreateInstance(ctx context.Context, inst *model.Instance) error {
	return queryCreateInstance(ctx, s.db, inst)
}

func (s *PostgresStore) UpdateDestination(ctx context.Context, dest *model.Destination) error {
	return queryUpdateDestination(ctx, s.db, dest)
}

func (s *PostgresStore) GetDestination(ctx context.Context, id string) (*model.Destination, error) {
	return queryGetDestination(ctx, s.db, id)
}

func (s *PostgresStore) ListDestinations(ctx context.Context, filter model.DestinationFilter) ([]*model.Destination, error) {
	return queryListDestinations(ctx, s.db, filter)
}

func (s *PostgresStore) ListActiveDestinations(ctx context.Context, tenantID, senderID, eventType string) ([]*model.Destination, error) {
	return queryListActiveDestinations(ctx, s.db, tenantID, senderID, eventType)
}

func (s *PostgresStore) DeleteDestination(ctx context.Context, id string) error {
	return queryDeleteDestination(ctx, s.db, id)
}

func (s *PostgresStore) CreateIntent(ctx context.Context, intent *model.Intent) (*model.Intent, error) {
	return queryCreateIntent(ctx, s.db, intent)
}

func (s *PostgresStore) GetIntent(ctx context.Context, id string) (*model.Intent, error) {
	return queryGetIntent(ctx, s.db, id)
}

func (s *PostgresStore) ListIntents(ctx context.Context, filter model.IntentFilter) ([]*model.Intent, error) {
	return queryListIntents(ctx, s.db, filter)
}

func (s *PostgresStore) ScheduleIntentRetry(ctx context.Context, intentID string, nextAttemptAt time.Time) error {
	return queryScheduleIntentRetry(ctx, s.db, intentID, nextAttemptAt)
}

func (s *PostgresStore) ResolveIntent(ctx context.Context, intentID string, status model.IntentStatus, errorCode, errorMessage string) (bool, error) {
	return queryResolveIntent(ctx, s.db, intentID, status, errorCode, errorMessage)
}

func (s *PostgresStore) CloseEventIntents(ctx context.Context, eventID, errorCode, errorMessage string) error {
	return queryCloseEventIntents(ctx, s.db, eventID, errorCode, errorMessage)
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	return queryGetAttempt(ctx, s.db, id)
}

func (s *PostgresStore) GetLatestAttempt(ctx context.Context, intentID string) (*model.Attempt, error) {
	return queryGetLatestAttempt(ctx, s.db, intentID)
}

func (s *PostgresStore) ListAttempts(ctx context.Context, filter model.AttemptFilter) ([]*model.Attempt, error) {
	return queryListAttempts(ctx, s.db, filter)
}

func (s *PostgresStore) ListAttemptIDsForEvent(ctx context.Context, eventID string) ([]string, error) {
	return queryListAttemptIDsForEvent(ctx, s.db, eventID)
}

// RecordAttempt runs the guarded counter update and the insert in one
// transaction of its own.
func (s *PostgresStore) RecordAttempt(ctx context.Context, attempt *model.Attempt) (bool, error) {
	var ok bool
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		ok, err = tx.RecordAttempt(ctx, attempt)
		return err
	})
	return ok, err
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) UpsertTenant(ctx context.Context, tenant *model.Tenant) error {
	return queryUpsertTenant(ctx, s.tx, tenant)
}

func (s *txStore) GetTenant(ctx context.Context, idOrIdentifier string) (*model.Tenant, error) {
	return queryGetTenant(ctx, s.tx, idOrIdentifier)
}

func (s *txStore) UpsertSender(ctx context.Context, sender *model.Sender) error {
	return queryUpsertSender(ctx, s.tx, sender)
}

func (s *txStore) GetSender(ctx context.Context, tenantID, idOrIdentifier string) (*model.Sender, error) {
	return queryGetSender(ctx, s.tx, tenantID, idOrIdentifier)
}

func (s *txStore) CreateEvent(ctx context.Context, event *model.Event) error {
	return queryCreateEvent(ctx, s.tx, event)
}

func (s *txStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return queryGetEvent(ctx, s.tx, id)
}

func (s *txStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	return queryListEvents(ctx, s.tx, filter)
}

func (s *txStore) SetDestinationCount(ctx context.Context, eventID string, count int) (bool, error) {
	return querySetDestinationCount(ctx, s.tx, eventID, count)
}

func (s *txStore) IncrementEventCounter(ctx context.Context, eventID string, succeeded bool) error {
	return queryIncrementEventCounter(ctx, s.tx, eventID, succeeded)
}

func (s *txStore) FinalizeEvent(ctx context.Context, eventID string, status model.EventStatus) (bool, error) {
	return queryFinalizeEvent(ctx, s.tx, eventID, status)
}

func (s *txStore) ScrubEventPayload(ctx context.Context, eventID string) error {
	return queryScrubEventPayload(ctx, s.tx, eventID)
}

func (s *txStore) ListEventIDsBefore(ctx context.Context, before time.Time, cursor string, limit int) ([]string, error) {
	return queryListEventIDsBefore(ctx, s.tx, before, cursor, limit)
}

func (s *txStore) PurgeEvent(ctx context.Context, eventID string) error {
	return queryPurgeEvent(ctx, s.tx, eventID)
}

func (s *txStore) CreateWebhook(ctx context.Context, webhook *model.Webhook) error {
	return queryCreateWebhook(ctx, s.tx, webhook)
}

func (s *txStore) CreateDestination(ctx context.Context, dest *model.Destination) error {
	return queryCreateDestination(ctx, s.tx, dest)
}

func (s *txStore) CreateInstance(ctx context.Context, inst *model.Instance) error {
	return queryCreateInstance(ctx, s.tx, inst)
}

func (s *txStore) UpdateDestination(ctx context.Context, dest *model.Destination) error {
	return queryUpdateDestination(ctx, s.tx, dest)
}

func (s *txStore) GetDestination(ctx context.Context, id string) (*model.Destination, error) {
	return queryGetDestination(ctx, s.tx, id)
}

func (s *txStore) ListDestinations(ctx context.Context, filter model.DestinationFilter) ([]*model.Destination, error) {
	return queryListDestinations(ctx, s.tx, filter)
}

func (s *txStore) ListActiveDestinations(ctx context.Context, tenantID, senderID, eventType string) ([]*model.Destination, error) {
	return queryListActiveDestinations(ctx, s.tx, tenantID, senderID, eventType)
}

func (s *txStore) DeleteDestination(ctx context.Context, id string) error {
	return queryDeleteDestination(ctx, s.tx, id)
}

func (s *txStore) CreateIntent(ctx context.Context, intent *model.Intent) (*model.Intent, error) {
	return queryCreateIntent(ctx, s.tx, intent)
}

func (s *txStore) GetIntent(ctx context.Context, id string) (*model.Intent, error) {
	return queryGetIntent(ctx, s.tx, id)
}

func (s *txStore) ListIntents(ctx context.Context, filter model.IntentFilter) ([]*model.Intent, error) {
	return queryListIntents(ctx, s.tx, filter)
}

func (s *txStore) ScheduleIntentRetry(ctx context.Context, intentID string, nextAttemptAt time.Time) error {
	return queryScheduleIntentRetry(ctx, s.tx, intentID, nextAttemptAt)
}

func (s *txStore) ResolveIntent(ctx context.Context, intentID string, status model.IntentStatus, errorCode, errorMessage string) (bool, error) {
	return queryResolveIntent(ctx, s.tx, intentID, status, errorCode, errorMessage)
}

func (s *txStore) CloseEventIntents(ctx context.Context, eventID, errorCode, errorMessage string) error {
	return queryCloseEventIntents(ctx, s.tx, eventID, errorCode, errorMessage)
}

func (s *txStore) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	return queryGetAttempt(ctx, s.tx, id)
}

func (s *txStore) GetLatestAttempt(ctx context.Context, intentID string) (*model.Attempt, error) {
	return queryGetLatestAttempt(ctx, s.tx, intentID)
}

func (s *txStore) ListAttempts(ctx context.Context, filter model.AttemptFilter) ([]*model.Attempt, error) {
	return queryListAttempts(ctx, s.tx, filter)
}

func (s *txStore) ListAttemptIDsForEvent(ctx context.Context, eventID string) ([]string, error) {
	return queryListAttemptIDsForEvent(ctx, s.tx, eventID)
}

func (s *txStore) RecordAttempt(ctx context.Context, attempt *model.Attempt) (bool, error) {
	return queryRecordAttempt(ctx, s.tx, attempt)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
