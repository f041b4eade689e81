package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
	"goflare.io/inventory/quantity"
	"goflare.io/inventory/stock"
)

type fakeStock struct {
	mu        sync.Mutex
	records   map[string]*models.InventoryRecord
	movements []*models.InventoryMovement

	failMovements error
	// beforeUpdate runs against the stored record under the lock, before the
	// version check.
	beforeUpdate func(stored *models.InventoryRecord)

	inTx            bool
	invalidated     []string
	invalidatedInTx int
}

func newFakeStock(records ...*models.InventoryRecord) *fakeStock {
	s := &fakeStock{records: make(map[string]*models.InventoryRecord)}
	for _, r := range records {
		s.records[r.VariantID] = r
	}
	return s
}

func (s *fakeStock) GetByVariantID(_ context.Context, _ pgx.Tx, variantID string) (*models.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[variantID]
	if !ok {
		return nil, fmt.Errorf("variant %s: %w", variantID, models.ErrInventoryNotFound)
	}
	return r.Clone(), nil
}

func (s *fakeStock) listByVariantIDs(variantIDs []string) map[string]*models.InventoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*models.InventoryRecord)
	for _, id := range variantIDs {
		if r, ok := s.records[id]; ok {
			out[id] = r.Clone()
		}
	}
	return out
}

func (s *fakeStock) Create(_ context.Context, _ pgx.Tx, record *models.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.VariantID]; ok {
		return models.NewRuleViolationf("inventory already exists for variant %s", record.VariantID)
	}
	s.records[record.VariantID] = record.Clone()
	return nil
}

func (s *fakeStock) UpdateLevels(_ context.Context, _ pgx.Tx, params stock.UpdateLevelsParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[params.Record.VariantID]
	if !ok {
		return models.ErrConcurrentModification
	}
	if s.beforeUpdate != nil {
		s.beforeUpdate(stored)
	}
	if stored.Version != params.ExpectedVersion {
		return models.ErrConcurrentModification
	}

	params.Record.Version = stored.Version + 1
	s.records[params.Record.VariantID] = params.Record.Clone()
	return nil
}

func (s *fakeStock) Delete(_ context.Context, _ pgx.Tx, record *models.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[record.VariantID]
	if !ok {
		return models.ErrInventoryNotFound
	}
	if stored.QuantityReserved > 0 {
		return models.NewRuleViolation(quantity.MsgDeleteWithReserved)
	}
	delete(s.records, record.VariantID)
	return nil
}

func (s *fakeStock) CreateMovements(_ context.Context, _ pgx.Tx, movements []*models.InventoryMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failMovements != nil {
		return s.failMovements
	}
	s.movements = append(s.movements, movements...)
	return nil
}

func (s *fakeStock) ListMovements(_ context.Context, _ pgx.Tx, params stock.ListMovementsParams) ([]*models.InventoryMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// newest first
	out := make([]*models.InventoryMovement, 0)
	for i := len(s.movements) - 1; i >= 0; i-- {
		if m := s.movements[i]; m.InventoryID == params.InventoryID {
			out = append(out, m)
		}
	}
	start := min(int(params.Offset), len(out))
	end := min(start+int(params.Limit), len(out))
	return out[start:end], nil
}

func (s *fakeStock) FindCommandMovement(_ context.Context, _ pgx.Tx, commandID string, line int) (*models.InventoryMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.movements {
		if m.ReferenceType == enum.MovementReferenceTypeCommand && m.ReferenceID == commandID && m.ReferenceLine == line {
			return m, nil
		}
	}
	return nil, nil
}

func (s *fakeStock) Invalidate(_ context.Context, variantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalidated = append(s.invalidated, variantID)
	if s.inTx {
		s.invalidatedInTx++
	}
}

func (s *fakeStock) setInTx(inTx bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = inTx
}

func (s *fakeStock) record(variantID string) *models.InventoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[variantID].Clone()
}

func (s *fakeStock) snapshot() (map[string]*models.InventoryRecord, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]*models.InventoryRecord, len(s.records))
	for k, v := range s.records {
		records[k] = v.Clone()
	}
	return records, len(s.movements)
}

func (s *fakeStock) restore(records map[string]*models.InventoryRecord, movements int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = records
	s.movements = s.movements[:movements]
}

// fakeTransactor rolls the fake stock back when fn fails.
type fakeTransactor struct {
	stock        *fakeStock
	serializable int
}

func (t *fakeTransactor) ExecuteTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	records, movements := t.stock.snapshot()
	t.stock.setInTx(true)
	defer t.stock.setInTx(false)

	if err := fn(nil); err != nil {
		t.stock.restore(records, movements)
		return err
	}
	return nil
}

func (t *fakeTransactor) ExecuteSerializableTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	t.serializable++
	return t.ExecuteTransaction(ctx, fn)
}

type fakeBundles struct {
	bundles map[string]*models.Bundle
	items   map[string][]models.BundleInventoryItem
}

func (b *fakeBundles) GetBundle(_ context.Context, _ pgx.Tx, bundleID string) (*models.Bundle, error) {
	bundle, ok := b.bundles[bundleID]
	if !ok {
		return nil, fmt.Errorf("bundle %s: %w", bundleID, models.ErrBundleNotFound)
	}
	return bundle, nil
}

func (b *fakeBundles) ReplaceInventoryItems(_ context.Context, _ pgx.Tx, bundleID string, items []models.BundleInventoryItem) error {
	if _, ok := b.bundles[bundleID]; !ok {
		return fmt.Errorf("bundle %s: %w", bundleID, models.ErrBundleNotFound)
	}
	if b.items == nil {
		b.items = make(map[string][]models.BundleInventoryItem)
	}
	b.items[bundleID] = items
	return nil
}

func (b *fakeBundles) ListInventoryItems(_ context.Context, _ pgx.Tx, bundleID string) ([]models.BundleInventoryItem, error) {
	if _, ok := b.bundles[bundleID]; !ok {
		return nil, fmt.Errorf("bundle %s: %w", bundleID, models.ErrBundleNotFound)
	}
	return b.items[bundleID], nil
}

type fakePublisher struct {
	mu        sync.Mutex
	movements []*models.InventoryMovement
	err       error
}

func (p *fakePublisher) PublishMovements(_ context.Context, movements ...*models.InventoryMovement) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.movements = append(p.movements, movements...)
	return nil
}

func (p *fakePublisher) published() []*models.InventoryMovement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.InventoryMovement(nil), p.movements...)
}

// availabilityFromStock answers availability lookups from the fake stock.
type availabilityFromStock struct {
	stock *fakeStock
}

func (a availabilityFromStock) GetAvailability(_ context.Context, variantIDs []string, _ string) (map[string]int, error) {
	records := a.stock.listByVariantIDs(variantIDs)
	out := make(map[string]int, len(records))
	for id, r := range records {
		out[id] = r.QuantityAvailable
	}
	return out, nil
}
