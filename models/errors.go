package models

import (
	"errors"
	"fmt"
)

var (
	ErrInventoryNotFound      = errors.New("inventory record not found")
	ErrBundleNotFound         = errors.New("bundle not found")
	ErrConcurrentModification = errors.New("inventory record was modified concurrently")
)

// ErrorKind 表示錯誤的分類，呼叫端依此決定回應方式
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindBusinessRule
	KindNotFound
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindBusinessRule:
		return "BUSINESS_RULE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// InventoryError is a rejection raised by inventory rules or input checks.
type InventoryError struct {
	Kind    ErrorKind
	Message string
}

func (e *InventoryError) Error() string {
	return e.Message
}

func NewValidationError(message string) *InventoryError {
	return &InventoryError{Kind: KindValidation, Message: message}
}

func NewRuleViolation(message string) *InventoryError {
	return &InventoryError{Kind: KindBusinessRule, Message: message}
}

func NewRuleViolationf(format string, args ...any) *InventoryError {
	return &InventoryError{Kind: KindBusinessRule, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err, looking through wrapped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}

	var inventoryErr *InventoryError
	if errors.As(err, &inventoryErr) {
		return inventoryErr.Kind
	}

	switch {
	case errors.Is(err, ErrInventoryNotFound), errors.Is(err, ErrBundleNotFound):
		return KindNotFound
	case errors.Is(err, ErrConcurrentModification):
		return KindConflict
	default:
		return KindInternal
	}
}
