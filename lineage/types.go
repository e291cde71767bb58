/*
Package lineage provides the batch lineage and transactional mutation engine.

PURPOSE:
  This package contains the core types and protocols for tracking living
  inventory (batches of plants) as it is split, merged, and moved through
  production. Every unit stays traceable to its origin batches, quantities
  are conserved across mutations, and writes survive partial failure via
  explicit compensation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Batch: A quantity of one variety at one size/location/phase
  - AncestryEdge: Proportion-weighted parent→child lineage link
  - BatchEvent: Immutable per-batch log entry
  - SplitRequest / MergeRequest / IntakeRequest: Mutation inputs

DESIGN PRINCIPLES:
  1. Conservation: Units debited from parents always equal units credited
     to children; ancestry proportions for a child always sum to 1
  2. Precision: Proportions use decimal.Decimal, never float64
  3. Type Safety: Strong typing for IDs prevents mixing batch/org/variety IDs
  4. Auditability: Every mutation carries an actor id and a request id

SEE ALSO:
  - orchestrator.go: Split/Merge saga protocols
  - ledger.go: Atomic quantity debits and credits
  - ancestry.go: Lineage recording and tracing
*/
package lineage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BatchID string
type BatchNumber string
type OrgID string
type VarietyID string
type SizeSpecID string
type LocationID string
type EventID string

// NewBatchID generates an opaque batch id.
func NewBatchID() BatchID {
	return BatchID(fmt.Sprintf("bat-%d", time.Now().UnixNano()))
}

// NewEventID generates an opaque event id.
func NewEventID() EventID {
	return EventID(fmt.Sprintf("evt-%d", time.Now().UnixNano()))
}

// =============================================================================
// PHASE - Coarse production stage derived from container attributes
// =============================================================================

type Phase string

const (
	PhasePropagation  Phase = "propagation"
	PhaseIntermediate Phase = "intermediate"
	PhaseFinished     Phase = "finished"
)

// Phases lists all phases in production order.
var Phases = []Phase{PhasePropagation, PhaseIntermediate, PhaseFinished}

// =============================================================================
// BATCH - A tracked quantity of one variety at one size/location/phase
// =============================================================================

type BatchStatus string

const (
	StatusGrowing   BatchStatus = "growing"
	StatusAvailable BatchStatus = "available" // available for sale
	StatusArchived  BatchStatus = "archived"
)

// Batch is a quantity of a single plant variety at a single size/container
// spec and location.
//
// INVARIANT: 0 <= Quantity <= InitialQuantity at all times.
// A batch whose quantity reaches 0 is eligible for automatic archival.
type Batch struct {
	ID         BatchID
	Number     BatchNumber // immutable once assigned, unique per org
	OrgID      OrgID
	VarietyID  VarietyID
	SizeSpecID SizeSpecID
	LocationID LocationID
	Phase      Phase
	Status     BatchStatus

	Quantity        int // current unit count, mutated only by ledger ops
	InitialQuantity int // set at creation, never mutated

	CreatedAt  time.Time
	ArchivedAt *time.Time
}

// Empty reports whether the batch has no units left.
func (b *Batch) Empty() bool { return b.Quantity == 0 }

// =============================================================================
// SIZE SPEC - Container specification (supplied by the size catalog)
// =============================================================================

type ContainerKind string

const (
	KindPot  ContainerKind = "pot"
	KindTray ContainerKind = "tray"
)

// SizeSpec describes a container: its kind and how many cells it holds.
// CellCount 1 means one plant per container (e.g., a pot).
type SizeSpec struct {
	ID            SizeSpecID
	Name          string
	ContainerKind ContainerKind
	CellCount     int
}

// =============================================================================
// ANCESTRY EDGE - Directed, proportion-weighted lineage link
// =============================================================================

// AncestryEdge records that Proportion of the child batch's units originated
// from the parent batch.
//
// INVARIANT: for a fixed child, the proportions of its incoming edges sum
// to 1. A split produces one edge with proportion 1; a merge produces one
// edge per parent with proportion contributed/total. Edges are append-only.
type AncestryEdge struct {
	ParentID   BatchID
	ChildID    BatchID
	Proportion decimal.Decimal // in (0, 1]
	CreatedAt  time.Time
}

// =============================================================================
// BATCH EVENT - Immutable log entry for one state transition
// =============================================================================

type BatchEventType string

const (
	EventSplitOut    BatchEventType = "SPLIT_OUT"
	EventSplitIn     BatchEventType = "SPLIT_IN"
	EventMergeOut    BatchEventType = "MERGE_OUT"
	EventMergeIn     BatchEventType = "MERGE_IN"
	EventIntake      BatchEventType = "INTAKE"
	EventArchive     BatchEventType = "ARCHIVE"
	EventCompensated BatchEventType = "COMPENSATED"
)

// EventPayload carries the structured detail of a batch event.
type EventPayload struct {
	CounterpartID     BatchID     `json:"counterpart_id,omitempty"`
	CounterpartNumber BatchNumber `json:"counterpart_number,omitempty"`
	Units             int         `json:"units,omitempty"`
	Note              string      `json:"note,omitempty"`
}

// BatchEvent is an append-only record of one state change of one batch,
// tagged with the caller-supplied request id so the full history of a
// mutation (including compensations) can be reconstructed.
type BatchEvent struct {
	ID        EventID
	BatchID   BatchID
	Type      BatchEventType
	Payload   EventPayload
	ActorID   string
	RequestID string
	At        time.Time
}

// =============================================================================
// MUTATION REQUESTS - Transient inputs identified by an idempotency key
// =============================================================================

// SplitRequest creates one child batch by debiting exactly one parent.
// Quantity is expressed as containers × units-per-container.
type SplitRequest struct {
	RequestID string // idempotency key, caller-supplied
	ActorID   string
	OrgID     OrgID

	ParentID          BatchID
	TargetSizeSpec    SizeSpecID
	TargetLocation    LocationID
	Containers        int
	UnitsPerContainer int

	// AutoArchiveParent archives the parent when its quantity reaches
	// exactly zero as a result of this split. Best-effort.
	AutoArchiveParent bool
}

// Units returns the total unit count moved by the split.
func (r SplitRequest) Units() int { return r.Containers * r.UnitsPerContainer }

// MergeSource is one contributing parent of a merge.
type MergeSource struct {
	BatchID            BatchID
	Units              int
	AutoArchiveIfEmpty bool
}

// MergeRequest creates one child batch by debiting multiple parents.
// The source units must sum exactly to RequiredUnits; a mismatch is a
// validation error, never a partial merge.
type MergeRequest struct {
	RequestID string
	ActorID   string
	OrgID     OrgID

	TargetSizeSpec SizeSpecID
	TargetLocation LocationID
	TargetVariety  VarietyID
	RequiredUnits  int
	Sources        []MergeSource
}

// TotalSourceUnits sums the contributed units across all sources.
func (r MergeRequest) TotalSourceUnits() int {
	total := 0
	for _, s := range r.Sources {
		total += s.Units
	}
	return total
}

// IntakeRequest creates a root batch with no parents (e.g., delivered stock
// or freshly sown material entering the system).
type IntakeRequest struct {
	RequestID string
	ActorID   string
	OrgID     OrgID

	VarietyID VarietyID
	SizeSpec  SizeSpecID
	Location  LocationID
	Units     int
	Note      string
}

// =============================================================================
// MUTATION RESULTS
// =============================================================================

// SplitResult is returned to the caller after a successful split.
type SplitResult struct {
	Child           Batch `json:"child"`
	ParentRemaining int   `json:"parent_remaining"`
}

// MergeResult is returned to the caller after a successful merge.
type MergeResult struct {
	Child Batch `json:"child"`
}

// IntakeResult is returned to the caller after a successful intake.
type IntakeResult struct {
	Batch Batch `json:"batch"`
}
