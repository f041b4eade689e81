package models

import (
	"strings"

	"goflare.io/inventory/models/enum"
)

// AdjustmentRequest 代表一次對單一規格的庫存調整請求
type AdjustmentRequest struct {
	VariantID      string              `json:"variant_id"`
	AdjustmentType enum.AdjustmentType `json:"adjustment_type"`
	Quantity       int                 `json:"quantity"`
	Reason         string              `json:"reason"`
	Notes          *string             `json:"notes,omitempty"`
	Actor          string              `json:"actor,omitempty"`

	// Line is the 1-based position of the request within a command. Zero
	// outside commands.
	Line int `json:"-"`
}

func (r *AdjustmentRequest) Validate() error {
	if strings.TrimSpace(r.VariantID) == "" {
		return NewValidationError("variant_id is required")
	}
	if !r.AdjustmentType.Requestable() {
		return NewValidationError("adjustment_type must be one of increase, decrease, reserve, release, fulfill")
	}
	if r.Quantity <= 0 {
		return NewValidationError("quantity must be positive")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return NewValidationError("reason is required")
	}
	return nil
}

// AdjustmentFailure pairs a rejected request with the reason it was rejected.
type AdjustmentFailure struct {
	Request AdjustmentRequest `json:"request"`
	Error   string            `json:"error"`
	Kind    ErrorKind         `json:"-"`
}

// BulkAdjustmentResult holds the outcome of every item of a batch. A batch
// with failures is still a successful call.
type BulkAdjustmentResult struct {
	Results []*InventoryRecord  `json:"results"`
	Errors  []AdjustmentFailure `json:"errors"`
}

// AdjustmentCommand is the asynchronous form of a bulk adjustment.
type AdjustmentCommand struct {
	ID          string              `json:"id"`
	Adjustments []AdjustmentRequest `json:"adjustments"`
}

func (c *AdjustmentCommand) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return NewValidationError("command id is required")
	}
	if len(c.Adjustments) == 0 {
		return NewValidationError("adjustments cannot be empty")
	}
	return nil
}
