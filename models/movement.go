package models

import (
	"time"

	"goflare.io/inventory/models/enum"
)

// InventoryMovement 是每次庫存異動的稽核記錄
type InventoryMovement struct {
	ID              string                     `json:"id"`
	InventoryID     string                     `json:"inventory_id"`
	VariantID       string                     `json:"variant_id"`
	Type            enum.AdjustmentType        `json:"type"`
	Quantity        int                        `json:"quantity"`
	OnHandBefore    int                        `json:"on_hand_before"`
	OnHandAfter     int                        `json:"on_hand_after"`
	ReservedBefore  int                        `json:"reserved_before"`
	ReservedAfter   int                        `json:"reserved_after"`
	ReservedClamped bool                       `json:"reserved_clamped"`
	Reason          string                     `json:"reason"`
	Notes           *string                    `json:"notes,omitempty"`
	Actor           string                     `json:"actor,omitempty"`
	ReferenceType   enum.MovementReferenceType `json:"reference_type"`
	ReferenceID     string                     `json:"reference_id,omitempty"`
	ReferenceLine   int                        `json:"reference_line,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
}
