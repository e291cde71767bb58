/*
ancestry.go - Lineage recording and tracing

PURPOSE:
  Appends proportion-weighted edges to the lineage graph and answers
  traceability queries. Edges are append-only; the graph is a DAG because
  a child is always created strictly after its parents.

CONSERVATION LAW:
  For any child, the proportions of its incoming edges sum to 1. A split
  writes one edge with proportion 1; a merge writes one edge per parent
  with proportion contributed/total. The orchestrator validates the sum
  before calling in here; the recorder only range-checks each edge.

TRACING:
  TraceOrigins walks the graph from a batch back to its roots, multiplying
  proportions along each path. The per-root attributions again sum to 1,
  so "38% of this saleable batch came from sowing lot X" is answerable.

SEE ALSO:
  - store.go: AncestryStore contract
  - orchestrator.go: Computes and validates proportions
*/
package lineage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ProportionTolerance is the slack allowed when checking that a child's
// incoming proportions sum to 1.
var ProportionTolerance = decimal.New(1, -9) // 1e-9

// =============================================================================
// RECORDER
// =============================================================================

// AncestryRecorder appends edges to the lineage graph.
type AncestryRecorder interface {
	// Link records one parent→child edge.
	Link(ctx context.Context, parent, child BatchID, proportion decimal.Decimal) error

	// LinkMany records several edges atomically: all or none.
	LinkMany(ctx context.Context, edges []AncestryEdge) error
}

// DefaultRecorder implements AncestryRecorder over an AncestryStore.
type DefaultRecorder struct {
	Edges AncestryStore
	Clock Clock
}

func NewRecorder(edges AncestryStore, clock Clock) *DefaultRecorder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DefaultRecorder{Edges: edges, Clock: clock}
}

func (r *DefaultRecorder) Link(ctx context.Context, parent, child BatchID, proportion decimal.Decimal) error {
	return r.LinkMany(ctx, []AncestryEdge{{ParentID: parent, ChildID: child, Proportion: proportion}})
}

// LinkMany range-checks each edge and inserts them all-or-none. Underlying
// write failures are surfaced verbatim; the orchestrator compensates.
func (r *DefaultRecorder) LinkMany(ctx context.Context, edges []AncestryEdge) error {
	if len(edges) == 0 {
		return &ValidationError{Field: "edges", Message: "no edges to link"}
	}
	now := r.Clock.Now()
	for i := range edges {
		e := &edges[i]
		if !e.Proportion.IsPositive() || e.Proportion.GreaterThan(decimal.NewFromInt(1)) {
			return &ValidationError{
				Field:   "proportion",
				Message: fmt.Sprintf("edge %s→%s proportion %s outside (0,1]", e.ParentID, e.ChildID, e.Proportion),
			}
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
	return r.Edges.InsertEdges(ctx, edges)
}

// SumProportions adds up the proportions of a set of edges.
func SumProportions(edges []AncestryEdge) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range edges {
		sum = sum.Add(e.Proportion)
	}
	return sum
}

// ProportionsSumToOne reports whether edge proportions sum to 1 within
// ProportionTolerance.
func ProportionsSumToOne(edges []AncestryEdge) bool {
	diff := SumProportions(edges).Sub(decimal.NewFromInt(1)).Abs()
	return diff.LessThanOrEqual(ProportionTolerance)
}

// =============================================================================
// TRACING
// =============================================================================

// Tracer answers lineage queries against the recorded graph.
type Tracer struct {
	Edges AncestryStore
}

func NewTracer(edges AncestryStore) *Tracer {
	return &Tracer{Edges: edges}
}

// TraceOrigins returns, for each root ancestor of the batch, the fraction
// of the batch's units attributable to that root. Proportions multiply
// along paths and add across paths; a batch with no parents is its own
// root with attribution 1.
func (t *Tracer) TraceOrigins(ctx context.Context, id BatchID) (map[BatchID]decimal.Decimal, error) {
	origins := make(map[BatchID]decimal.Decimal)
	if err := t.trace(ctx, id, decimal.NewFromInt(1), origins, 0); err != nil {
		return nil, err
	}
	return origins, nil
}

// maxTraceDepth bounds the walk; production lineages are a handful of
// generations deep, so hitting this indicates a corrupt (cyclic) graph.
const maxTraceDepth = 64

func (t *Tracer) trace(ctx context.Context, id BatchID, weight decimal.Decimal, origins map[BatchID]decimal.Decimal, depth int) error {
	if depth > maxTraceDepth {
		return fmt.Errorf("%w: lineage deeper than %d at batch %s", ErrConflict, maxTraceDepth, id)
	}
	parents, err := t.Edges.ParentsOf(ctx, id)
	if err != nil {
		return err
	}
	if len(parents) == 0 {
		origins[id] = origins[id].Add(weight)
		return nil
	}
	for _, e := range parents {
		if err := t.trace(ctx, e.ParentID, weight.Mul(e.Proportion), origins, depth+1); err != nil {
			return err
		}
	}
	return nil
}
