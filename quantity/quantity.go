// Package quantity holds the on-hand/reserved/available arithmetic shared by
// every inventory write path.
package quantity

import (
	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
)

// DefaultLowStockThreshold is used when no threshold is configured.
const DefaultLowStockThreshold = 10

const (
	MsgDecreaseBelowZero  = "cannot decrease stock below zero"
	MsgReserveExceeds     = "cannot reserve more than available quantity"
	MsgReleaseExceeds     = "cannot release more than reserved quantity"
	MsgFulfillExceeds     = "cannot fulfill more than reserved quantity"
	MsgQuantityPositive   = "quantity must be positive"
	MsgUnknownAdjustment  = "unknown adjustment type"
	MsgDeleteWithReserved = "cannot delete inventory with reserved quantity"
)

// Available returns max(0, onHand-reserved).
func Available(onHand, reserved int) int {
	return max(0, onHand-reserved)
}

func IsLowStock(onHand, threshold int) bool {
	return onHand <= threshold
}

func IsOutOfStock(available int) bool {
	return available <= 0
}

// Levels is the quantity state after a transition.
type Levels struct {
	OnHand    int
	Reserved  int
	Available int
	// Clamped is set when Reserved was lowered to OnHand.
	Clamped bool
}

// Normalize clamps reserved to onHand and derives the available quantity.
func Normalize(onHand, reserved int) Levels {
	levels := Levels{OnHand: onHand, Reserved: reserved}
	if levels.Reserved > levels.OnHand {
		levels.Reserved = levels.OnHand
		levels.Clamped = true
	}
	levels.Available = Available(levels.OnHand, levels.Reserved)
	return levels
}

// Apply computes the levels that result from applying an adjustment of type t
// and size qty to (onHand, reserved). A violated precondition returns a
// business-rule error and leaves nothing applied.
func Apply(onHand, reserved int, t enum.AdjustmentType, qty int) (Levels, error) {
	if qty <= 0 {
		return Levels{}, models.NewValidationError(MsgQuantityPositive)
	}

	newOnHand, newReserved := onHand, reserved

	switch t {
	case enum.AdjustmentTypeIncrease:
		newOnHand += qty
	case enum.AdjustmentTypeDecrease:
		if qty > onHand {
			return Levels{}, models.NewRuleViolation(MsgDecreaseBelowZero)
		}
		newOnHand -= qty
	case enum.AdjustmentTypeReserve:
		if qty > Available(onHand, reserved) {
			return Levels{}, models.NewRuleViolation(MsgReserveExceeds)
		}
		newReserved += qty
	case enum.AdjustmentTypeRelease:
		if qty > reserved {
			return Levels{}, models.NewRuleViolation(MsgReleaseExceeds)
		}
		newReserved -= qty
	case enum.AdjustmentTypeFulfill:
		if qty > reserved {
			return Levels{}, models.NewRuleViolation(MsgFulfillExceeds)
		}
		newReserved -= qty
		newOnHand -= qty
	default:
		return Levels{}, models.NewValidationError(MsgUnknownAdjustment)
	}

	return Normalize(newOnHand, newReserved), nil
}
