/*
store.go - Persistence interfaces for the lineage engine

PURPOSE:
  Defines the interfaces between the engine and the database. The store is
  assumed to provide durable rows, single-row atomic updates, and at least
  read-committed isolation; it is NOT assumed to expose cross-row
  transactions to this layer. The orchestrator achieves all-or-nothing
  semantics via compensation instead.

KEY INTERFACES:
  BatchStore:    Batch rows + the atomic conditional debit (the single
                 synchronization point of the whole engine)
  AncestryStore: Append-only lineage edges (LinkMany is all-or-none)
  EventStore:    Append-only batch events
  SequenceStore: Atomic per-(org, phase) counter increments
  ClaimStore:    Atomic insert-if-absent idempotency claims

ATOMICITY CONTRACT:
  - Debit MUST be a single conditional update (fails if quantity < units),
    never a read-then-write pair. Two concurrent debits against a batch
    with stock for only one must yield exactly one success.
  - NextSequence MUST be an atomic increment-and-read.
  - InsertClaim MUST be an insert that fails on duplicate key.
  - DeleteBatch and Credit are compensation paths and must be safe no-ops
    when the target state is already consistent.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - lineage/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level debit/credit wrapper
  - orchestrator.go: Drives all of these in saga order
*/
package lineage

import (
	"context"
	"time"
)

// =============================================================================
// BATCH STORE
// =============================================================================

// BatchStore persists batch rows and exposes the atomic quantity updates.
type BatchStore interface {
	// CreateBatch inserts a new batch row. Fails with ErrConflict if the
	// id or the (org, number) pair already exists.
	CreateBatch(ctx context.Context, b Batch) error

	// GetBatch returns a batch by id, or ErrBatchNotFound.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)

	// DeleteBatch removes a batch row. Compensation only: a batch that has
	// been observed by anything outside its own saga is never deleted.
	// Deleting an absent batch is a no-op.
	DeleteBatch(ctx context.Context, id BatchID) error

	// DebitQuantity atomically subtracts units if quantity >= units,
	// returning the remaining quantity. Returns ErrInsufficientQuantity
	// (without modifying the row) on underflow, ErrBatchNotFound if the
	// batch doesn't exist.
	DebitQuantity(ctx context.Context, id BatchID, units int) (remaining int, err error)

	// CreditQuantity atomically adds units back, clamped so quantity never
	// exceeds initial_quantity. Compensation only. Returns the resulting
	// quantity, or ErrBatchNotFound.
	CreditQuantity(ctx context.Context, id BatchID, units int) (quantity int, err error)

	// ArchiveBatch marks a batch archived at the given time. Archiving an
	// already-archived batch is a no-op.
	ArchiveBatch(ctx context.Context, id BatchID, at time.Time) error

	// ListBatches returns all batches for an org, newest first.
	ListBatches(ctx context.Context, org OrgID) ([]Batch, error)

	// ListEmptyGrowing returns unarchived batches whose quantity is zero,
	// candidates for automatic archival.
	ListEmptyGrowing(ctx context.Context, org OrgID) ([]Batch, error)
}

// =============================================================================
// ANCESTRY STORE
// =============================================================================

// AncestryStore persists lineage edges. Append-only: edges are never
// mutated. Edges are removed only when their child batch row is deleted by
// a compensation (the edges describe a batch that no longer exists).
type AncestryStore interface {
	// InsertEdges inserts all edges or none.
	InsertEdges(ctx context.Context, edges []AncestryEdge) error

	// DeleteEdgesForChild removes all incoming edges of a child batch.
	// Compensation only; deleting absent edges is a no-op.
	DeleteEdgesForChild(ctx context.Context, child BatchID) error

	// ParentsOf returns the incoming edges of a batch.
	ParentsOf(ctx context.Context, child BatchID) ([]AncestryEdge, error)

	// ChildrenOf returns the outgoing edges of a batch.
	ChildrenOf(ctx context.Context, parent BatchID) ([]AncestryEdge, error)
}

// =============================================================================
// EVENT STORE
// =============================================================================

// EventStore persists batch events. Append-only. No Update, No Delete.
type EventStore interface {
	// AppendEvent persists one event.
	AppendEvent(ctx context.Context, ev BatchEvent) error

	// EventsForBatch returns all events of a batch, chronologically.
	EventsForBatch(ctx context.Context, id BatchID) ([]BatchEvent, error)

	// EventsForRequest returns all events tagged with a request id.
	EventsForRequest(ctx context.Context, requestID string) ([]BatchEvent, error)
}

// =============================================================================
// SEQUENCE STORE
// =============================================================================

// SequenceStore provides the per-(org, phase) batch number counters.
type SequenceStore interface {
	// NextSequence atomically increments and returns the counter for the
	// given org and phase. The first call returns 1.
	NextSequence(ctx context.Context, org OrgID, phase Phase) (int64, error)
}

// =============================================================================
// CLAIM STORE
// =============================================================================

// ClaimState tracks the lifecycle of an idempotency claim.
type ClaimState string

const (
	// ClaimPending: the mutation is in flight (or died mid-compensation).
	ClaimPending ClaimState = "pending"
	// ClaimApplied: the mutation succeeded; ResultJSON holds its result.
	ClaimApplied ClaimState = "applied"
)

// Claim is a persisted idempotency claim for one request id.
type Claim struct {
	RequestID  string
	State      ClaimState
	ResultJSON string // serialized mutation result, set when applied
	CreatedAt  time.Time
}

// ClaimStore persists idempotency claims.
type ClaimStore interface {
	// InsertClaim atomically inserts a pending claim. Returns false (and
	// no error) if the request id is already claimed.
	InsertClaim(ctx context.Context, requestID string, at time.Time) (inserted bool, err error)

	// GetClaim returns a claim, or nil if the id was never claimed.
	GetClaim(ctx context.Context, requestID string) (*Claim, error)

	// SettleClaim marks a claim applied and stores the result.
	SettleClaim(ctx context.Context, requestID string, resultJSON string) error

	// ReleaseClaim deletes a claim so a retry may proceed. Called after a
	// fully compensated failure; releasing an absent claim is a no-op.
	ReleaseClaim(ctx context.Context, requestID string) error
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface the orchestrator needs.
type Store interface {
	BatchStore
	AncestryStore
	EventStore
	SequenceStore
	ClaimStore
}

// =============================================================================
// EXTERNAL CATALOGS - Supplied by collaborators outside this core
// =============================================================================

// SizeSpecCatalog supplies container attributes for phase classification.
type SizeSpecCatalog interface {
	// GetSizeSpec returns a size spec, or ErrSizeSpecNotFound.
	GetSizeSpec(ctx context.Context, id SizeSpecID) (*SizeSpec, error)
}

// LocationCatalog answers existence checks for target locations.
type LocationCatalog interface {
	LocationExists(ctx context.Context, id LocationID) (bool, error)
}
