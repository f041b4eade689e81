// Package inventory is the stock-keeping core: typed quantity adjustments on
// per-variant inventory records, their audit trail, and bundle availability.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/inventory/bundle"
	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
	"goflare.io/inventory/quantity"
	"goflare.io/inventory/stock"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 200
)

type Service interface {
	CreateInventory(ctx context.Context, variantID string) (*models.InventoryRecord, error)
	GetInventory(ctx context.Context, variantID string) (*models.StockStatus, error)
	UpdateInventory(ctx context.Context, variantID string, params models.UpdateInventoryParams) (*models.InventoryRecord, error)
	DeleteInventory(ctx context.Context, variantID string) error
	ListMovements(ctx context.Context, variantID string, limit, offset uint64) ([]*models.InventoryMovement, error)

	AdjustStock(ctx context.Context, request models.AdjustmentRequest) (*models.InventoryRecord, error)
	BulkAdjustStock(ctx context.Context, requests []models.AdjustmentRequest) *models.BulkAdjustmentResult
	ApplyCommand(ctx context.Context, command *models.AdjustmentCommand) *models.BulkAdjustmentResult

	GetBundleAvailability(ctx context.Context, bundleID, salesChannelID string) (*models.BundleAvailability, error)
	LinkBundleInventory(ctx context.Context, bundleID string) ([]models.BundleInventoryItem, error)
	ListBundleInventory(ctx context.Context, bundleID string) ([]models.BundleInventoryItem, error)
}

// Transactor runs fn inside a database transaction. It is satisfied by
// *driver.TransactionManager.
type Transactor interface {
	ExecuteTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
	ExecuteSerializableTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// MovementPublisher announces committed inventory movements.
type MovementPublisher interface {
	PublishMovements(ctx context.Context, movements ...*models.InventoryMovement) error
}

type Options struct {
	DefaultLocation   string
	LowStockThreshold int
}

type service struct {
	stock     stock.Repository
	bundle    bundle.Repository
	evaluator *bundle.Evaluator

	transactionManager Transactor
	publisher          MovementPublisher

	defaultLocation   string
	lowStockThreshold int

	now    func() time.Time
	tracer trace.Tracer
	logger *zap.Logger
}

func NewService(
	stock stock.Repository, bundle bundle.Repository, evaluator *bundle.Evaluator,
	tm Transactor, publisher MovementPublisher, opts Options,
	logger *zap.Logger) Service {
	if opts.DefaultLocation == "" {
		opts.DefaultLocation = "main"
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = quantity.DefaultLowStockThreshold
	}

	return &service{
		stock:              stock,
		bundle:             bundle,
		evaluator:          evaluator,
		transactionManager: tm,
		publisher:          publisher,
		defaultLocation:    opts.DefaultLocation,
		lowStockThreshold:  opts.LowStockThreshold,
		now:                func() time.Time { return time.Now().UTC() },
		tracer:             otel.Tracer("goflare.io/inventory"),
		logger:             logger,
	}
}

// reference identifies what caused a movement.
type reference struct {
	kind enum.MovementReferenceType
	id   string
	line int
}

func (s *service) CreateInventory(ctx context.Context, variantID string) (*models.InventoryRecord, error) {
	if variantID == "" {
		return nil, models.NewValidationError("variant_id is required")
	}

	record := models.NewInventoryRecord(variantID, s.defaultLocation)
	record.QuantityAvailable = quantity.Available(record.QuantityOnHand, record.QuantityReserved)

	if err := s.stock.Create(ctx, nil, record); err != nil {
		return nil, err
	}

	s.logger.Info("inventory created", zap.String("variant_id", variantID), zap.String("inventory_id", record.ID))
	return record, nil
}

func (s *service) GetInventory(ctx context.Context, variantID string) (*models.StockStatus, error) {
	record, err := s.stock.GetByVariantID(ctx, nil, variantID)
	if err != nil {
		return nil, err
	}

	return &models.StockStatus{
		InventoryRecord: record,
		LowStock:        quantity.IsLowStock(record.QuantityOnHand, s.lowStockThreshold),
		OutOfStock:      quantity.IsOutOfStock(record.QuantityAvailable),
	}, nil
}

// UpdateInventory writes fields directly. Reserved is clamped to on-hand the
// same way adjustments are, and a quantity change is recorded as a
// correction movement.
func (s *service) UpdateInventory(ctx context.Context, variantID string, params models.UpdateInventoryParams) (*models.InventoryRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var updated *models.InventoryRecord
	var movement *models.InventoryMovement

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// 1. 取得目前的庫存記錄
		current, err := s.stock.GetByVariantID(ctx, tx, variantID)
		if err != nil {
			return err
		}

		// 2. 套用欄位變更並重新計算可售數量
		onHand, reserved := current.QuantityOnHand, current.QuantityReserved
		if params.QuantityOnHand != nil {
			onHand = *params.QuantityOnHand
		}
		if params.QuantityReserved != nil {
			reserved = *params.QuantityReserved
		}
		levels := quantity.Normalize(onHand, reserved)

		now := s.now()
		next := withLevels(current, levels, now)
		if levels.OnHand > current.QuantityOnHand {
			next.LastRestockedAt = &now
		}
		if params.Location != nil {
			next.Location = *params.Location
		}
		if params.Notes != nil {
			next.Notes = params.Notes
		}

		// 3. 以版本號作條件更新
		if err = s.stock.UpdateLevels(ctx, tx, stock.UpdateLevelsParams{
			Record:          next,
			ExpectedVersion: current.Version,
		}); err != nil {
			return err
		}

		// 4. 數量有變動時寫入異動記錄
		if levels.OnHand != current.QuantityOnHand || levels.Reserved != current.QuantityReserved {
			reason := params.Reason
			if reason == "" {
				reason = "manual update"
			}
			movement = newMovement(current, next, enum.AdjustmentTypeCorrection, levels.OnHand-current.QuantityOnHand,
				reason, params.Notes, params.Actor, levels.Clamped,
				reference{kind: enum.MovementReferenceTypeCorrection}, now)
			if err = s.stock.CreateMovements(ctx, tx, []*models.InventoryMovement{movement}); err != nil {
				return fmt.Errorf("failed to create inventory movement: %w", err)
			}
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stock.Invalidate(ctx, variantID)

	if movement != nil {
		s.publish(ctx, movement)
	}
	return updated, nil
}

func (s *service) DeleteInventory(ctx context.Context, variantID string) error {
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		current, err := s.stock.GetByVariantID(ctx, tx, variantID)
		if err != nil {
			return err
		}
		if current.QuantityReserved > 0 {
			return models.NewRuleViolation(quantity.MsgDeleteWithReserved)
		}

		if err = s.stock.Delete(ctx, tx, current); err != nil {
			return err
		}

		s.logger.Info("inventory deleted", zap.String("variant_id", variantID), zap.String("inventory_id", current.ID))
		return nil
	})
	if err != nil {
		return err
	}

	s.stock.Invalidate(ctx, variantID)
	return nil
}

func (s *service) ListMovements(ctx context.Context, variantID string, limit, offset uint64) ([]*models.InventoryMovement, error) {
	record, err := s.stock.GetByVariantID(ctx, nil, variantID)
	if err != nil {
		return nil, err
	}

	if limit == 0 {
		limit = defaultMovementLimit
	}
	limit = min(limit, maxMovementLimit)

	return s.stock.ListMovements(ctx, nil, stock.ListMovementsParams{
		InventoryID: record.ID,
		Limit:       limit,
		Offset:      offset,
	})
}

// AdjustStock applies one adjustment. The record is either fully updated with
// its movement written, or left untouched.
func (s *service) AdjustStock(ctx context.Context, request models.AdjustmentRequest) (*models.InventoryRecord, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	return s.adjust(ctx, request, reference{kind: enum.MovementReferenceTypeAdjustment})
}

// BulkAdjustStock applies each request on its own; a rejected item neither
// stops nor rolls back the others.
func (s *service) BulkAdjustStock(ctx context.Context, requests []models.AdjustmentRequest) *models.BulkAdjustmentResult {
	return s.bulkAdjust(ctx, requests, reference{kind: enum.MovementReferenceTypeBulkAdjustment, id: uuid.NewString()})
}

// ApplyCommand applies the command's adjustments, numbering each by its line
// unless already numbered. A line that already has a movement is not applied
// again, so a redelivered or retried command only applies what is missing.
func (s *service) ApplyCommand(ctx context.Context, command *models.AdjustmentCommand) *models.BulkAdjustmentResult {
	requests := make([]models.AdjustmentRequest, len(command.Adjustments))
	for i, request := range command.Adjustments {
		if request.Line == 0 {
			request.Line = i + 1
		}
		requests[i] = request
	}
	return s.bulkAdjust(ctx, requests, reference{kind: enum.MovementReferenceTypeCommand, id: command.ID})
}

func (s *service) bulkAdjust(ctx context.Context, requests []models.AdjustmentRequest, ref reference) *models.BulkAdjustmentResult {
	result := &models.BulkAdjustmentResult{
		Results: make([]*models.InventoryRecord, 0, len(requests)),
		Errors:  make([]models.AdjustmentFailure, 0),
	}

	for _, request := range requests {
		record, err := s.validateAndAdjust(ctx, request, ref)
		if err != nil {
			result.Errors = append(result.Errors, models.AdjustmentFailure{
				Request: request,
				Error:   err.Error(),
				Kind:    models.KindOf(err),
			})
			continue
		}
		result.Results = append(result.Results, record)
	}

	s.logger.Info("bulk adjustment finished",
		zap.String("reference_type", string(ref.kind)),
		zap.String("reference_id", ref.id),
		zap.Int("succeeded", len(result.Results)),
		zap.Int("failed", len(result.Errors)))

	return result
}

func (s *service) validateAndAdjust(ctx context.Context, request models.AdjustmentRequest, ref reference) (*models.InventoryRecord, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	ref.line = request.Line
	return s.adjust(ctx, request, ref)
}

func (s *service) adjust(ctx context.Context, request models.AdjustmentRequest, ref reference) (*models.InventoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.adjust", trace.WithAttributes(
		attribute.String("inventory.variant_id", request.VariantID),
		attribute.String("inventory.adjustment_type", string(request.AdjustmentType)),
		attribute.Int("inventory.quantity", request.Quantity),
	))
	defer span.End()

	var updated *models.InventoryRecord
	var movement *models.InventoryMovement

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// 1. 取得庫存記錄
		current, err := s.stock.GetByVariantID(ctx, tx, request.VariantID)
		if err != nil {
			return err
		}

		// 指令行已套用過時直接回傳目前記錄
		if ref.kind == enum.MovementReferenceTypeCommand && ref.line > 0 {
			applied, err := s.stock.FindCommandMovement(ctx, tx, ref.id, ref.line)
			if err != nil {
				return err
			}
			if applied != nil {
				s.logger.Info("command line already applied",
					zap.String("command_id", ref.id),
					zap.Int("line", ref.line),
					zap.String("movement_id", applied.ID))
				updated, movement = current, nil
				return nil
			}
		}

		// 2. 依調整類型計算新的數量，違反規則時直接拒絕
		levels, err := quantity.Apply(current.QuantityOnHand, current.QuantityReserved, request.AdjustmentType, request.Quantity)
		if err != nil {
			return err
		}

		now := s.now()
		next := withLevels(current, levels, now)
		if request.AdjustmentType == enum.AdjustmentTypeIncrease {
			next.LastRestockedAt = &now
		}

		// 3. 以版本號作條件更新，避免覆蓋並行寫入
		if err = s.stock.UpdateLevels(ctx, tx, stock.UpdateLevelsParams{
			Record:          next,
			ExpectedVersion: current.Version,
		}); err != nil {
			return err
		}

		// 4. 寫入異動記錄
		movement = newMovement(current, next, request.AdjustmentType, request.Quantity,
			request.Reason, request.Notes, request.Actor, levels.Clamped, ref, now)
		if err = s.stock.CreateMovements(ctx, tx, []*models.InventoryMovement{movement}); err != nil {
			return fmt.Errorf("failed to create inventory movement: %w", err)
		}

		updated = next
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if models.KindOf(err) == models.KindInternal {
			s.logger.Error("failed to adjust stock",
				zap.String("variant_id", request.VariantID),
				zap.String("adjustment_type", string(request.AdjustmentType)),
				zap.Error(err))
		}
		return nil, err
	}
	if movement == nil {
		return updated, nil
	}
	s.stock.Invalidate(ctx, request.VariantID)

	if movement.ReservedClamped {
		s.logger.Warn("reserved quantity clamped to on-hand",
			zap.String("variant_id", request.VariantID),
			zap.Int("reserved_before", movement.ReservedBefore),
			zap.Int("reserved_after", movement.ReservedAfter))
	}
	s.publish(ctx, movement)

	return updated, nil
}

func (s *service) GetBundleAvailability(ctx context.Context, bundleID, salesChannelID string) (*models.BundleAvailability, error) {
	bundleModel, err := s.bundle.GetBundle(ctx, nil, bundleID)
	if err != nil {
		return nil, err
	}

	return s.evaluator.Evaluate(ctx, bundleModel.ID, bundleModel.Components, salesChannelID)
}

// LinkBundleInventory replaces the inventory items tracked by the bundle's
// variant with those derived from its current components.
func (s *service) LinkBundleInventory(ctx context.Context, bundleID string) ([]models.BundleInventoryItem, error) {
	var items []models.BundleInventoryItem

	err := s.transactionManager.ExecuteSerializableTransaction(ctx, func(tx pgx.Tx) error {
		bundleModel, err := s.bundle.GetBundle(ctx, tx, bundleID)
		if err != nil {
			return err
		}

		items = bundle.Link(bundleModel.Components, bundle.QuantityMap(bundleModel.Components))
		if len(items) < len(bundleModel.Components) {
			s.logger.Warn("bundle has components without inventory",
				zap.String("bundle_id", bundleID),
				zap.Int("components", len(bundleModel.Components)),
				zap.Int("linked", len(items)))
		}

		return s.bundle.ReplaceInventoryItems(ctx, tx, bundleID, items)
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (s *service) ListBundleInventory(ctx context.Context, bundleID string) ([]models.BundleInventoryItem, error) {
	return s.bundle.ListInventoryItems(ctx, nil, bundleID)
}

func (s *service) publish(ctx context.Context, movement *models.InventoryMovement) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishMovements(ctx, movement); err != nil {
		s.logger.Error("failed to publish inventory movement",
			zap.String("movement_id", movement.ID),
			zap.String("variant_id", movement.VariantID),
			zap.Error(err))
	}
}

func withLevels(current *models.InventoryRecord, levels quantity.Levels, now time.Time) *models.InventoryRecord {
	next := current.Clone()
	next.QuantityOnHand = levels.OnHand
	next.QuantityReserved = levels.Reserved
	next.QuantityAvailable = levels.Available
	next.UpdatedAt = now
	return next
}

func newMovement(
	before, after *models.InventoryRecord, typ enum.AdjustmentType, qty int,
	reason string, notes *string, actor string, clamped bool, ref reference, now time.Time) *models.InventoryMovement {
	return &models.InventoryMovement{
		ID:              uuid.NewString(),
		InventoryID:     before.ID,
		VariantID:       before.VariantID,
		Type:            typ,
		Quantity:        qty,
		OnHandBefore:    before.QuantityOnHand,
		OnHandAfter:     after.QuantityOnHand,
		ReservedBefore:  before.QuantityReserved,
		ReservedAfter:   after.QuantityReserved,
		ReservedClamped: clamped,
		Reason:          reason,
		Notes:           notes,
		Actor:           actor,
		ReferenceType:   ref.kind,
		ReferenceID:     ref.id,
		ReferenceLine:   ref.line,
		CreatedAt:       now,
	}
}
