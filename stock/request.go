package stock

import "goflare.io/inventory/models"

// UpdateLevelsParams writes Record's quantities, location, notes and restock
// time, provided the stored row still carries ExpectedVersion.
type UpdateLevelsParams struct {
	Record          *models.InventoryRecord
	ExpectedVersion int64
}

type ListMovementsParams struct {
	InventoryID string
	Limit       uint64
	Offset      uint64
}
