/*
guard.go - Idempotency guard for mutation requests

PURPOSE:
  Deduplicates repeated invocations of the same logical mutation so
  retries (flaky clients, gateway replays) never double-apply. A request
  id is claimed exactly once via an atomic insert-if-absent; two racing
  retries cannot both believe they are first.

CLAIM LIFECYCLE:
  pending  — inserted before the saga starts
  applied  — saga succeeded; the serialized result is cached on the claim
             so a later retry returns the same logical result
  released — saga failed and was fully compensated; the row is deleted so
             a legitimate retry can proceed

  A claim that stays pending means the mutation is in flight, or a
  compensation failed and an operator must intervene before the id can be
  reused.

SEE ALSO:
  - store.go: ClaimStore contract
  - orchestrator.go: Claims before step 1, settles/releases at the end
*/
package lineage

import (
	"context"
	"fmt"
)

// IdempotencyGuard claims, settles, and releases request ids.
type IdempotencyGuard interface {
	// Claim attempts to claim a request id. firstUse is true when this
	// caller won the claim; otherwise prior describes the existing claim.
	Claim(ctx context.Context, requestID string) (firstUse bool, prior *Claim, err error)

	// Settle marks the claim applied with the mutation's serialized result.
	Settle(ctx context.Context, requestID string, resultJSON string) error

	// Release frees the claim after a fully compensated failure.
	Release(ctx context.Context, requestID string) error
}

// DefaultGuard implements IdempotencyGuard over a ClaimStore.
type DefaultGuard struct {
	Claims ClaimStore
	Clock  Clock
}

func NewGuard(claims ClaimStore, clock Clock) *DefaultGuard {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DefaultGuard{Claims: claims, Clock: clock}
}

func (g *DefaultGuard) Claim(ctx context.Context, requestID string) (bool, *Claim, error) {
	if requestID == "" {
		return false, nil, &ValidationError{Field: "request_id", Message: "request id is required"}
	}

	inserted, err := g.Claims.InsertClaim(ctx, requestID, g.Clock.Now())
	if err != nil {
		return false, nil, fmt.Errorf("claiming request %s: %w", requestID, err)
	}
	if inserted {
		return true, nil, nil
	}

	prior, err := g.Claims.GetClaim(ctx, requestID)
	if err != nil {
		return false, nil, fmt.Errorf("loading prior claim %s: %w", requestID, err)
	}
	if prior == nil {
		// Claim vanished between insert and read: a concurrent failure was
		// compensated and released. Treat as a conflict; the caller retries.
		return false, nil, fmt.Errorf("%w: claim for %s released concurrently", ErrConflict, requestID)
	}
	return false, prior, nil
}

func (g *DefaultGuard) Settle(ctx context.Context, requestID string, resultJSON string) error {
	return g.Claims.SettleClaim(ctx, requestID, resultJSON)
}

func (g *DefaultGuard) Release(ctx context.Context, requestID string) error {
	return g.Claims.ReleaseClaim(ctx, requestID)
}
