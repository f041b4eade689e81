package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryRecord 代表單一規格（variant）的庫存記錄
type InventoryRecord struct {
	ID                string     `json:"id"`
	VariantID         string     `json:"variant_id"`
	QuantityOnHand    int        `json:"quantity_on_hand"`
	QuantityReserved  int        `json:"quantity_reserved"`
	QuantityAvailable int        `json:"quantity_available"`
	Location          string     `json:"location"`
	LastRestockedAt   *time.Time `json:"last_restocked_at"`
	Notes             *string    `json:"notes,omitempty"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewInventoryRecord returns a zero-quantity record for variantID.
func NewInventoryRecord(variantID, location string) *InventoryRecord {
	now := time.Now().UTC()
	return &InventoryRecord{
		ID:        uuid.NewString(),
		VariantID: variantID,
		Location:  location,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can compute a new state without
// touching the one read from storage.
func (r *InventoryRecord) Clone() *InventoryRecord {
	clone := *r
	if r.LastRestockedAt != nil {
		t := *r.LastRestockedAt
		clone.LastRestockedAt = &t
	}
	if r.Notes != nil {
		n := *r.Notes
		clone.Notes = &n
	}
	return &clone
}

// UpdateInventoryParams 直接修改庫存欄位，nil 代表不變更
type UpdateInventoryParams struct {
	QuantityOnHand   *int    `json:"quantity_on_hand,omitempty"`
	QuantityReserved *int    `json:"quantity_reserved,omitempty"`
	Location         *string `json:"location,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	Reason           string  `json:"reason"`
	Actor            string  `json:"actor,omitempty"`
}

func (p *UpdateInventoryParams) Validate() error {
	if p.QuantityOnHand != nil && *p.QuantityOnHand < 0 {
		return NewValidationError("quantity_on_hand cannot be negative")
	}
	if p.QuantityReserved != nil && *p.QuantityReserved < 0 {
		return NewValidationError("quantity_reserved cannot be negative")
	}
	if p.Location != nil && *p.Location == "" {
		return NewValidationError("location cannot be empty")
	}
	return nil
}

// StockStatus is the read model returned with a record.
type StockStatus struct {
	*InventoryRecord
	LowStock   bool `json:"low_stock"`
	OutOfStock bool `json:"out_of_stock"`
}
