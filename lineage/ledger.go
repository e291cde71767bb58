/*
ledger.go - Atomic quantity debits and credits

PURPOSE:
  The Quantity Ledger is the single synchronization point of the engine.
  Debit is a conditional single-row update that fails when the batch has
  fewer units than requested, so two concurrent debits against the same
  batch can never both succeed when only one has enough stock.

CRITICAL INVARIANTS:
  1. Quantity never goes negative
  2. Quantity never exceeds InitialQuantity (credits are clamped)
  3. Credit is used ONLY as a compensation, never on the happy path

WHY A CLAMPED CREDIT?
  A timed-out debit whose effect is unknown must be treated as a potential
  success for compensation purposes. If the debit never applied, the
  compensating credit would push the quantity past InitialQuantity; the
  clamp turns that into a no-op, making compensation safe to run
  unconditionally.

SEE ALSO:
  - store.go: DebitQuantity/CreditQuantity contracts
  - orchestrator.go: Drives debits and compensating credits
*/
package lineage

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// QUANTITY LEDGER
// =============================================================================

// QuantityLedger transfers units out of (and, for compensation, back into)
// batches.
type QuantityLedger interface {
	// Debit subtracts units from a batch, returning the remaining quantity
	// so the caller can decide whether the batch is now empty. Returns
	// *InsufficientQuantityError (wrapping ErrInsufficientQuantity) on
	// underflow, ErrBatchNotFound if the batch doesn't exist.
	Debit(ctx context.Context, id BatchID, units int) (remaining int, err error)

	// Credit adds units back to a batch. COMPENSATION ONLY. Clamped at the
	// batch's initial quantity.
	Credit(ctx context.Context, id BatchID, units int) (quantity int, err error)
}

// DefaultLedger implements QuantityLedger over a BatchStore.
type DefaultLedger struct {
	Batches BatchStore
}

func NewLedger(batches BatchStore) *DefaultLedger {
	return &DefaultLedger{Batches: batches}
}

// Debit delegates to the store's atomic conditional update and decorates
// underflow with the requested/available detail the caller reports.
func (l *DefaultLedger) Debit(ctx context.Context, id BatchID, units int) (int, error) {
	if units <= 0 {
		return 0, &ValidationError{Field: "units", Message: "debit must be positive"}
	}

	remaining, err := l.Batches.DebitQuantity(ctx, id, units)
	if err == nil {
		return remaining, nil
	}
	if errors.Is(err, ErrInsufficientQuantity) {
		// The conditional update failed; read the row to name the shortfall.
		b, getErr := l.Batches.GetBatch(ctx, id)
		if getErr != nil {
			return 0, fmt.Errorf("debit of batch %s failed: %w", id, getErr)
		}
		return 0, &InsufficientQuantityError{BatchID: id, Requested: units, Available: b.Quantity}
	}
	return 0, err
}

// Credit restores units after a failed downstream step.
func (l *DefaultLedger) Credit(ctx context.Context, id BatchID, units int) (int, error) {
	if units <= 0 {
		return 0, &ValidationError{Field: "units", Message: "credit must be positive"}
	}
	return l.Batches.CreditQuantity(ctx, id, units)
}
