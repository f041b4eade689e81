package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/inventory/driver"
	"goflare.io/inventory/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	GetBundle(ctx context.Context, tx pgx.Tx, bundleID string) (*models.Bundle, error)
	ReplaceInventoryItems(ctx context.Context, tx pgx.Tx, bundleID string, items []models.BundleInventoryItem) error
	ListInventoryItems(ctx context.Context, tx pgx.Tx, bundleID string) ([]models.BundleInventoryItem, error)
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

// GetBundle loads a bundle with its components. Each component carries a
// snapshot of its product's primary variant (lowest rank, then oldest) and
// that variant's inventory record id, when they exist.
func (r *repository) GetBundle(ctx context.Context, tx pgx.Tx, bundleID string) (*models.Bundle, error) {
	q := driver.WithTx(r.conn, tx)

	var bundle models.Bundle
	var variantID *string
	err := q.QueryRow(ctx,
		`SELECT id, title, product_id, variant_id FROM bundles WHERE id = $1`, bundleID).
		Scan(&bundle.ID, &bundle.Title, &bundle.ProductID, &variantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bundle %s: %w", bundleID, models.ErrBundleNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get bundle", zap.String("bundle_id", bundleID), zap.Error(err))
		return nil, err
	}
	if variantID != nil {
		bundle.VariantID = *variantID
	}

	rows, err := q.Query(ctx,
		`SELECT c.product_id, c.quantity_required, v.id, r.id::text
		   FROM bundle_components c
		   LEFT JOIN LATERAL (
		        SELECT pv.id FROM product_variants pv
		         WHERE pv.product_id = c.product_id
		         ORDER BY pv.variant_rank, pv.created_at, pv.id
		         LIMIT 1) v ON TRUE
		   LEFT JOIN inventory_records r ON r.variant_id = v.id
		  WHERE c.bundle_id = $1
		  ORDER BY c.position, c.product_id`, bundleID)
	if err != nil {
		r.logger.Error("Failed to list bundle components", zap.String("bundle_id", bundleID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	bundle.Components = make([]models.BundleComponent, 0)
	for rows.Next() {
		var (
			component            models.BundleComponent
			componentVariantID   *string
			componentInventoryID *string
		)
		if err = rows.Scan(&component.ProductID, &component.QuantityRequired, &componentVariantID, &componentInventoryID); err != nil {
			return nil, err
		}
		if componentVariantID != nil {
			component.Variant = &models.VariantRef{ID: *componentVariantID, InventoryID: componentInventoryID}
		}
		bundle.Components = append(bundle.Components, component)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return &bundle, nil
}

func (r *repository) ReplaceInventoryItems(ctx context.Context, tx pgx.Tx, bundleID string, items []models.BundleInventoryItem) error {
	q := driver.WithTx(r.conn, tx)

	tag, err := q.Exec(ctx, `UPDATE bundles SET updated_at = $2 WHERE id = $1`, bundleID, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to touch bundle", zap.String("bundle_id", bundleID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bundle %s: %w", bundleID, models.ErrBundleNotFound)
	}

	if _, err = q.Exec(ctx, `DELETE FROM bundle_inventory_items WHERE bundle_id = $1`, bundleID); err != nil {
		r.logger.Error("Failed to clear bundle inventory items", zap.String("bundle_id", bundleID), zap.Error(err))
		return err
	}

	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO bundle_inventory_items (bundle_id, inventory_id, required_quantity) VALUES ($1, $2, $3)`,
			bundleID, item.InventoryID, item.RequiredQuantity)
	}

	batchResults := q.SendBatch(ctx, batch)
	defer func(batchResults pgx.BatchResults) {
		if err := batchResults.Close(); err != nil {
			r.logger.Error("failed to close batch", zap.Error(err))
		}
	}(batchResults)

	for range items {
		if _, err = batchResults.Exec(); err != nil {
			r.logger.Error("Failed to insert bundle inventory item", zap.String("bundle_id", bundleID), zap.Error(err))
			return err
		}
	}

	return nil
}

func (r *repository) ListInventoryItems(ctx context.Context, tx pgx.Tx, bundleID string) ([]models.BundleInventoryItem, error) {
	rows, err := driver.WithTx(r.conn, tx).Query(ctx,
		`SELECT inventory_id::text, required_quantity FROM bundle_inventory_items
		  WHERE bundle_id = $1 ORDER BY inventory_id`, bundleID)
	if err != nil {
		r.logger.Error("Failed to list bundle inventory items", zap.String("bundle_id", bundleID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	items := make([]models.BundleInventoryItem, 0)
	for rows.Next() {
		var item models.BundleInventoryItem
		if err = rows.Scan(&item.InventoryID, &item.RequiredQuantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}
