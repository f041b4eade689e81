package event

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/inventory/driver"
	"goflare.io/inventory/models"
)

var _ Repository = (*repository)(nil)

// Repository records inbound commands so redelivered messages are applied
// once.
type Repository interface {
	// Claim stores event if it is new and takes a processing lease on it
	// until event.ClaimedUntil. It reports false when the event is already
	// processed or another delivery holds an unexpired lease.
	Claim(ctx context.Context, event *models.Event) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Claim(ctx context.Context, event *models.Event) (bool, error) {
	var id string
	err := r.conn.QueryRow(ctx,
		`INSERT INTO events (id, subject, processed, claimed_until, created_at, updated_at)
		 VALUES ($1, $2, FALSE, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		    SET claimed_until = EXCLUDED.claimed_until, updated_at = EXCLUDED.updated_at
		  WHERE events.processed = FALSE
		    AND (events.claimed_until IS NULL OR events.claimed_until < EXCLUDED.updated_at)
		 RETURNING id`,
		event.ID, event.Subject, event.ClaimedUntil, event.CreatedAt, event.UpdatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("failed to claim event", zap.String("event_id", event.ID), zap.Error(err))
		return false, err
	}
	return true, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := r.conn.QueryRow(ctx,
		`SELECT id, subject, processed, claimed_until, created_at, updated_at FROM events WHERE id = $1`, id).
		Scan(&event.ID, &event.Subject, &event.Processed, &event.ClaimedUntil, &event.CreatedAt, &event.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE events SET processed = TRUE, claimed_until = NULL, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}
