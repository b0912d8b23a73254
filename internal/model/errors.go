package model

import (
	"errors"
	"fmt"
	"time"
)

// Error categories. Every concrete domain error matches exactly one of them
// with errors.Is, so callers can branch on the category without knowing the
// individual error.
var (
	ErrValidation   = errors.New("validation error")
	ErrBusinessRule = errors.New("business rule violation")
	ErrConcurrency  = errors.New("concurrency conflict")
	ErrInvariant    = errors.New("invariant violation")
)

type DomainError struct {
	category error
	message  string
}

func newDomainError(category error, message string) *DomainError {
	return &DomainError{category: category, message: message}
}

func (e *DomainError) Error() string {
	return e.message
}

func (e *DomainError) Is(target error) bool {
	return target == e.category
}

func (e *DomainError) Category() error {
	return e.category
}

var (
	ErrNegativeAmount        = newDomainError(ErrValidation, "points amount must not be negative")
	ErrInvalidConversionRate = newDomainError(ErrValidation, "conversion rate must be between 1 and 1000")
	ErrInvalidDateRange      = newDomainError(ErrValidation, "date range start must not be after end")
	ErrInvalidIdentifier     = newDomainError(ErrValidation, "invalid identifier")

	ErrInsufficientPoints   = newDomainError(ErrBusinessRule, "insufficient points")
	ErrEarnedBelowUsed      = newDomainError(ErrBusinessRule, "recalculated earned points would fall below used points")
	ErrNoApplicableRule     = newDomainError(ErrBusinessRule, "no conversion rule applies to the transaction date")
	ErrRuleDateRangeOverlap = newDomainError(ErrBusinessRule, "conversion rule date range overlaps an active rule")
	ErrRuleAlreadyInactive  = newDomainError(ErrBusinessRule, "conversion rule is already inactive")

	ErrConcurrentModification = newDomainError(ErrConcurrency, "concurrent modification, retry with a fresh read")

	ErrCorruptedData = newDomainError(ErrInvariant, "persisted data violates domain invariants")
)

type NoApplicableRuleError struct {
	Date time.Time
}

func (e *NoApplicableRuleError) Error() string {
	return fmt.Sprintf("no conversion rule applies to %s", e.Date.Format(DateLayout))
}

func (e *NoApplicableRuleError) Is(target error) bool {
	return target == ErrNoApplicableRule || target == ErrBusinessRule
}

// CorruptedDataError is returned by the Reconstruct functions. It must never be
// turned into a usable value by the caller.
type CorruptedDataError struct {
	Entity string
	ID     string
	Reason string
}

func (e *CorruptedDataError) Error() string {
	return fmt.Sprintf("corrupted %s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *CorruptedDataError) Is(target error) bool {
	return target == ErrCorruptedData || target == ErrInvariant
}

// InvariantViolation is the panic value raised by the unchecked arithmetic
// path. It is recovered only at process or request boundaries.
type InvariantViolation struct {
	Message string
}

func (v InvariantViolation) Error() string {
	return "invariant violation: " + v.Message
}

func (v InvariantViolation) Is(target error) bool {
	return target == ErrInvariant
}

// IsInvariantPanic reports whether a recovered panic value came from the
// domain's fail-fast path.
func IsInvariantPanic(recovered any) bool {
	err, ok := recovered.(error)
	if !ok {
		return false
	}
	return errors.Is(err, ErrInvariant)
}
