package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/inventory/driver"
	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
	"goflare.io/inventory/quantity"
)

const pgUniqueViolation = "23505"

const recordColumns = `id, variant_id, quantity_on_hand, quantity_reserved, quantity_available,
	location, last_restocked_at, notes, version, created_at, updated_at`

const movementColumns = `id, inventory_id, variant_id, type, quantity, on_hand_before, on_hand_after,
	reserved_before, reserved_after, reserved_clamped, reason, notes, actor, reference_type,
	reference_id, reference_line, created_at`

var _ Repository = (*repository)(nil)

type Repository interface {
	GetByVariantID(ctx context.Context, tx pgx.Tx, variantID string) (*models.InventoryRecord, error)
	Create(ctx context.Context, tx pgx.Tx, record *models.InventoryRecord) error
	UpdateLevels(ctx context.Context, tx pgx.Tx, params UpdateLevelsParams) error
	Delete(ctx context.Context, tx pgx.Tx, record *models.InventoryRecord) error
	CreateMovements(ctx context.Context, tx pgx.Tx, movements []*models.InventoryMovement) error
	ListMovements(ctx context.Context, tx pgx.Tx, params ListMovementsParams) ([]*models.InventoryMovement, error)
	// FindCommandMovement returns the movement written for one line of a
	// command, or nil when that line has not been applied.
	FindCommandMovement(ctx context.Context, tx pgx.Tx, commandID string, line int) (*models.InventoryMovement, error)
	// Invalidate drops the cached record of variantID. Call it after the
	// writing transaction commits.
	Invalidate(ctx context.Context, variantID string)
}

type repository struct {
	conn   driver.PostgresPool
	cache  *recordCache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		cache:  newRecordCache(cache, cacheTTL),
		logger: logger,
	}
}

// GetByVariantID reads through the cache only outside a transaction; a
// transaction needs the row's current version.
func (r *repository) GetByVariantID(ctx context.Context, tx pgx.Tx, variantID string) (*models.InventoryRecord, error) {
	if tx == nil {
		record, found, err := r.cache.get(ctx, variantID)
		if err != nil {
			r.logger.Warn("failed to get inventory from cache", zap.String("variant_id", variantID), zap.Error(err))
		}
		if found {
			return record, nil
		}
	}

	row := driver.WithTx(r.conn, tx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE variant_id = $1`, variantID)
	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("variant %s: %w", variantID, models.ErrInventoryNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get inventory", zap.String("variant_id", variantID), zap.Error(err))
		return nil, err
	}

	if tx == nil {
		if err = r.cache.set(ctx, record); err != nil {
			r.logger.Warn("failed to cache inventory", zap.String("variant_id", variantID), zap.Error(err))
		}
	}

	return record, nil
}

func (r *repository) Create(ctx context.Context, tx pgx.Tx, record *models.InventoryRecord) error {
	_, err := driver.WithTx(r.conn, tx).Exec(ctx,
		`INSERT INTO inventory_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.VariantID, record.QuantityOnHand, record.QuantityReserved, record.QuantityAvailable,
		record.Location, record.LastRestockedAt, record.Notes, record.Version, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return models.NewRuleViolationf("inventory already exists for variant %s", record.VariantID)
		}
		r.logger.Error("failed to create inventory", zap.String("variant_id", record.VariantID), zap.Error(err))
		return err
	}

	return nil
}

// UpdateLevels is a compare-and-swap on the version column. When another
// writer got there first ErrConcurrentModification is returned: either no row
// matches, or the transaction's snapshot is stale and Postgres reports a
// serialization failure.
func (r *repository) UpdateLevels(ctx context.Context, tx pgx.Tx, params UpdateLevelsParams) error {
	record := params.Record
	row := driver.WithTx(r.conn, tx).QueryRow(ctx,
		`UPDATE inventory_records
		    SET quantity_on_hand = $3, quantity_reserved = $4, quantity_available = $5,
		        location = $6, last_restocked_at = $7, notes = $8,
		        version = version + 1, updated_at = $9
		  WHERE id = $1 AND version = $2
		 RETURNING version`,
		record.ID, params.ExpectedVersion, record.QuantityOnHand, record.QuantityReserved, record.QuantityAvailable,
		record.Location, record.LastRestockedAt, record.Notes, record.UpdatedAt)

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("inventory version changed during update",
				zap.String("inventory_id", record.ID),
				zap.Int64("expected_version", params.ExpectedVersion))
			return models.ErrConcurrentModification
		}
		if driver.IsRetryableError(err) {
			r.logger.Warn("inventory updated by a concurrent transaction",
				zap.String("inventory_id", record.ID),
				zap.Int64("expected_version", params.ExpectedVersion),
				zap.Error(err))
			return models.ErrConcurrentModification
		}
		r.logger.Error("failed to update inventory", zap.String("inventory_id", record.ID), zap.Error(err))
		return err
	}
	record.Version = version

	return nil
}

func (r *repository) Delete(ctx context.Context, tx pgx.Tx, record *models.InventoryRecord) error {
	q := driver.WithTx(r.conn, tx)
	tag, err := q.Exec(ctx, `DELETE FROM inventory_records WHERE id = $1 AND quantity_reserved = 0`, record.ID)
	if driver.IsRetryableError(err) {
		r.logger.Warn("inventory deleted during a concurrent transaction", zap.String("inventory_id", record.ID), zap.Error(err))
		return models.ErrConcurrentModification
	}
	if err != nil {
		r.logger.Error("failed to delete inventory", zap.String("inventory_id", record.ID), zap.Error(err))
		return err
	}

	if tag.RowsAffected() == 0 {
		// 區分記錄不存在與仍有保留數量兩種情況
		var reserved int
		err = q.QueryRow(ctx, `SELECT quantity_reserved FROM inventory_records WHERE id = $1`, record.ID).Scan(&reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("inventory %s: %w", record.ID, models.ErrInventoryNotFound)
		}
		if err != nil {
			return err
		}
		return models.NewRuleViolation(quantity.MsgDeleteWithReserved)
	}

	return nil
}

func (r *repository) CreateMovements(ctx context.Context, tx pgx.Tx, movements []*models.InventoryMovement) error {
	if len(movements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`INSERT INTO inventory_movements (`+movementColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			m.ID, m.InventoryID, m.VariantID, string(m.Type), m.Quantity, m.OnHandBefore, m.OnHandAfter,
			m.ReservedBefore, m.ReservedAfter, m.ReservedClamped, m.Reason, m.Notes, nullable(m.Actor),
			string(m.ReferenceType), nullable(m.ReferenceID), nullableInt(m.ReferenceLine), m.CreatedAt)
	}

	batchResults := driver.WithTx(r.conn, tx).SendBatch(ctx, batch)
	defer func(batchResults pgx.BatchResults) {
		if err := batchResults.Close(); err != nil {
			r.logger.Error("failed to close batch", zap.Error(err))
		}
	}(batchResults)

	for range movements {
		if _, err := batchResults.Exec(); err != nil {
			// 同一指令行已由另一個投遞寫入
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				r.logger.Warn("command line already recorded", zap.Error(err))
				return models.ErrConcurrentModification
			}
			r.logger.Error("failed to execute batch", zap.Error(err))
			return err
		}
	}

	return nil
}

func (r *repository) ListMovements(ctx context.Context, tx pgx.Tx, params ListMovementsParams) ([]*models.InventoryMovement, error) {
	rows, err := driver.WithTx(r.conn, tx).Query(ctx,
		`SELECT `+movementColumns+` FROM inventory_movements
		  WHERE inventory_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		params.InventoryID, int64(params.Limit), int64(params.Offset))
	if err != nil {
		r.logger.Error("failed to list inventory movements", zap.String("inventory_id", params.InventoryID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	movements := make([]*models.InventoryMovement, 0, params.Limit)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}

	return movements, rows.Err()
}

func (r *repository) FindCommandMovement(ctx context.Context, tx pgx.Tx, commandID string, line int) (*models.InventoryMovement, error) {
	row := driver.WithTx(r.conn, tx).QueryRow(ctx,
		`SELECT `+movementColumns+` FROM inventory_movements
		  WHERE reference_type = $1 AND reference_id = $2 AND reference_line = $3`,
		string(enum.MovementReferenceTypeCommand), commandID, line)
	m, err := scanMovement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to find command movement",
			zap.String("command_id", commandID),
			zap.Int("line", line),
			zap.Error(err))
		return nil, err
	}
	return m, nil
}

func (r *repository) Invalidate(ctx context.Context, variantID string) {
	if err := r.cache.invalidate(ctx, variantID); err != nil {
		r.logger.Warn("failed to invalidate inventory cache", zap.String("variant_id", variantID), zap.Error(err))
	}
}

func scanRecord(row pgx.Row) (*models.InventoryRecord, error) {
	var record models.InventoryRecord
	err := row.Scan(&record.ID, &record.VariantID, &record.QuantityOnHand, &record.QuantityReserved,
		&record.QuantityAvailable, &record.Location, &record.LastRestockedAt, &record.Notes, &record.Version,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func scanMovement(row pgx.Row) (*models.InventoryMovement, error) {
	var (
		m                  models.InventoryMovement
		typ, refType       string
		actor, referenceID *string
		referenceLine      *int
	)
	if err := row.Scan(&m.ID, &m.InventoryID, &m.VariantID, &typ, &m.Quantity, &m.OnHandBefore, &m.OnHandAfter,
		&m.ReservedBefore, &m.ReservedAfter, &m.ReservedClamped, &m.Reason, &m.Notes, &actor, &refType,
		&referenceID, &referenceLine, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Type = enum.AdjustmentType(typ)
	m.ReferenceType = enum.MovementReferenceType(refType)
	if actor != nil {
		m.Actor = *actor
	}
	if referenceID != nil {
		m.ReferenceID = *referenceID
	}
	if referenceLine != nil {
		m.ReferenceLine = *referenceLine
	}
	return &m, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
