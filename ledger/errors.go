/*
errors.go - Centralized error types for the ledger engine

PURPOSE:

	All error types in one place for consistency and discoverability.
	Every structured error unwraps to a sentinel so callers can branch
	with errors.Is and still render a precise message from the fields.

ERROR CATEGORIES:
 1. Validation errors - Rejected before any state read
 2. Stock errors - Rejected before any mutation, batch-wide
 3. Persistence errors - Gateway write failed, view left untouched
 4. Scan errors - User-facing outcomes of document resolution

USAGE:

	var stockErr *ledger.InsufficientStockError
	if errors.As(err, &stockErr) {
	    fmt.Printf("%s only has %d of %s\n", stockErr.Location, stockErr.Available, stockErr.PalletType)
	}

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (empty items, zero quantities, missing endpoints).
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when a source lacks the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidReason is returned when an adjustment reason is missing or too short.
	ErrInvalidReason = errors.New("invalid adjustment reason")

	// ErrPersistence is returned when the gateway rejects a write.
	ErrPersistence = errors.New("persistence failed")

	// ErrVersionConflict is returned by a gateway when the snapshot version moved on.
	ErrVersionConflict = errors.New("snapshot version conflict")

	// ErrConcurrentModification is returned when every write attempt hit a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced transaction, location or partner doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrLockNotObtained is returned by a WriterLock that gave up waiting.
	ErrLockNotObtained = errors.New("writer lock not obtained")

	// Scan outcomes
	ErrDocumentNotFound = errors.New("document not found")
	ErrAlreadyCompleted = errors.New("document already completed")
	ErrWrongDestination = errors.New("document not destined for this location")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError provides details about a stock shortage, with
// display names so callers can render it without a catalog lookup.
type InsufficientStockError struct {
	Location       LocationID
	LocationName   string
	PalletType     PalletTypeID
	PalletTypeName string
	Available      int
	Requested      int
}

func (e *InsufficientStockError) Error() string {
	loc, pt := e.LocationName, e.PalletTypeName
	if loc == "" {
		loc = string(e.Location)
	}
	if pt == "" {
		pt = string(e.PalletType)
	}
	return fmt.Sprintf("insufficient stock at %s for %s: available %d, requested %d",
		loc, pt, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Shortfall is how many pallets are missing.
func (e *InsufficientStockError) Shortfall() int { return e.Requested - e.Available }

// InvalidReasonError is returned when an adjustment is not explained well enough.
type InvalidReasonError struct {
	Reason    string
	MinLength int
}

func (e *InvalidReasonError) Error() string {
	if e.Reason == "" {
		return "adjustment reason is required"
	}
	return fmt.Sprintf("adjustment reason too short: %d characters, need at least %d", len([]rune(e.Reason)), e.MinLength)
}

func (e *InvalidReasonError) Unwrap() error { return ErrInvalidReason }

// PersistenceError wraps a failed gateway write.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: write failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// NotFoundError identifies a missing record.
type NotFoundError struct {
	Kind string // "transaction", "document", "location", "partner", "pallet type"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ScanError is a user-facing scan outcome. It is never a crash.
type ScanError struct {
	DocumentNumber string
	Location       LocationID
	Destination    LocationID // set for wrong-destination outcomes
	Err            error
}

func (e *ScanError) Error() string {
	switch {
	case errors.Is(e.Err, ErrWrongDestination):
		return fmt.Sprintf("document %s is destined for %s, not %s", e.DocumentNumber, e.Destination, e.Location)
	case errors.Is(e.Err, ErrAlreadyCompleted):
		return fmt.Sprintf("document %s was already received", e.DocumentNumber)
	default:
		return fmt.Sprintf("document %q not found", e.DocumentNumber)
	}
}

func (e *ScanError) Unwrap() error { return e.Err }

// Outcome is a stable machine-readable code for the scan result.
func (e *ScanError) Outcome() string {
	switch {
	case errors.Is(e.Err, ErrWrongDestination):
		return "wrong_destination"
	case errors.Is(e.Err, ErrAlreadyCompleted):
		return "already_completed"
	default:
		return "not_found"
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockNotObtained)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidReason)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDocumentNotFound)
}
