/*
errors.go - Centralized error types for the lineage engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinels with errors.Is and unwrap structured
  errors for detail (which batch was short, by how much).

ERROR CATEGORIES:
  1. Validation errors - Malformed or inconsistent requests, no side effects
  2. Not-found errors - Referenced batch/size/location does not exist
  3. Ledger errors - Underflow on debit (triggers compensation)
  4. Conflict / transient errors - Concurrent or connectivity failures
  5. Unrecoverable errors - A compensation itself failed; the ledger may
     be inconsistent and an operator must intervene

SEE ALSO:
  - orchestrator.go: Maps step failures to compensations
  - ledger.go: Produces InsufficientQuantityError
*/
package lineage

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or inconsistent requests.
	// Never retried; no side effects have occurred.
	ErrValidation = errors.New("invalid request")

	// ErrBatchNotFound is returned when a referenced batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrSizeSpecNotFound is returned when a referenced size spec doesn't exist.
	ErrSizeSpecNotFound = errors.New("size spec not found")

	// ErrLocationNotFound is returned when a referenced location doesn't exist.
	ErrLocationNotFound = errors.New("location not found")

	// ErrInsufficientQuantity is returned when a debit would underflow.
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrDuplicateRequest is returned when a request id is already claimed
	// by a mutation that is still in flight. A retry after the first
	// attempt settles returns the cached result instead.
	ErrDuplicateRequest = errors.New("duplicate request in flight")

	// ErrConflict is returned when a structural write (ancestry, sequence,
	// batch number) failed due to a concurrent conflict.
	ErrConflict = errors.New("concurrent structural conflict")

	// ErrTransientStore is returned for connectivity/timeout failures.
	// The idempotency claim is released so the caller may safely retry
	// the whole request with the same id.
	ErrTransientStore = errors.New("transient store failure")

	// ErrUnrecoverable is returned when a compensation itself failed,
	// leaving the ledger inconsistent. Must be surfaced loudly.
	ErrUnrecoverable = errors.New("unrecoverable: compensation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientQuantityError names the batch that was short and by how much.
type InsufficientQuantityError struct {
	BatchID   BatchID
	Requested int
	Available int
}

// Shortfall is how many units the batch was missing.
func (e *InsufficientQuantityError) Shortfall() int {
	return e.Requested - e.Available
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity in batch %s: requested %d, available %d (short by %d)",
		e.BatchID, e.Requested, e.Available, e.Shortfall())
}

func (e *InsufficientQuantityError) Unwrap() error {
	return ErrInsufficientQuantity
}

// ValidationError describes which field of a request was rejected and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CompensationError reports a failed compensation: the original step
// failure plus the error that occurred while undoing completed steps.
// The ledger may be inconsistent for the named request.
type CompensationError struct {
	RequestID     string
	Cause         error // the step failure that triggered compensation
	CompensateErr error // the failure of the compensation itself
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for request %s: %v (original failure: %v)",
		e.RequestID, e.CompensateErr, e.Cause)
}

func (e *CompensationError) Unwrap() error {
	return ErrUnrecoverable
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole request may be safely retried with
// the same request id.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientQuantity)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrSizeSpecNotFound) ||
		errors.Is(err, ErrLocationNotFound)
}
