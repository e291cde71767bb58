/*
orchestrator.go - Split and Merge saga protocols

PURPOSE:
  The top-level component of the engine. Implements the two mutation
  protocols (Split and Merge) plus Intake as ordered sequences of steps
  against the Ledger, Sequencer, Classifier, Recorder, and Event Log,
  with explicit compensating actions when a later step fails. This is the
  hand-rolled saga that gives all-or-nothing semantics on a store without
  cross-row transactions.

SPLIT STATE MACHINE:
  Start → ChildCreated → ParentDebited → AncestryLinked → EventsLogged
        → (optionally) ParentArchived → Done
  with Compensating → Failed reachable from any state after ChildCreated.

MERGE:
  Same shape, but the debit step walks a variable-length source list and
  compensation must unwind an arbitrary prefix of successful debits.

STEP SEVERITY:
  - Validation / classification / sequencing failures abort before any
    write; nothing to compensate.
  - Debit and ancestry failures trigger full compensation and release the
    idempotency claim so the caller may retry.
  - Event-log and auto-archive failures are non-fatal: the ledger and
    ancestry are already consistent. They are logged loudly for alerting.
  - A failed compensation is escalated as ErrUnrecoverable and leaves the
    claim pending so the request id stays blocked until an operator
    intervenes.

SEE ALSO:
  - ledger.go, ancestry.go, sequencer.go, events.go, guard.go
  - errors.go: The taxonomy each step failure maps to
*/
package lineage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// SAGA STATES
// =============================================================================

type sagaState int

const (
	stateStart sagaState = iota
	stateChildCreated
	stateParentDebited // merge: all source debits applied
	stateAncestryLinked
	stateEventsLogged
	stateDone
	stateCompensating
	stateFailed
)

func (s sagaState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateChildCreated:
		return "child_created"
	case stateParentDebited:
		return "parent_debited"
	case stateAncestryLinked:
		return "ancestry_linked"
	case stateEventsLogged:
		return "events_logged"
	case stateDone:
		return "done"
	case stateCompensating:
		return "compensating"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives mutation protocols against the engine's components.
// All steps are blocking calls; ordering within one mutation is strictly
// sequential. There is no cancellation mid-protocol: once a child batch
// row exists, the saga runs to full success or full compensation.
type Orchestrator struct {
	Batches   BatchStore
	Edges     AncestryStore
	Ledger    QuantityLedger
	Recorder  AncestryRecorder
	Sequencer BatchSequencer
	Events    EventLog
	Guard     IdempotencyGuard

	Sizes     SizeSpecCatalog
	Locations LocationCatalog

	Clock Clock
	Log   *logrus.Logger
}

// NewOrchestrator wires an orchestrator with default component
// implementations over a combined store.
func NewOrchestrator(store Store, sizes SizeSpecCatalog, locations LocationCatalog, clock Clock, log *logrus.Logger) *Orchestrator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Orchestrator{
		Batches:   store,
		Edges:     store,
		Ledger:    NewLedger(store),
		Recorder:  NewRecorder(store, clock),
		Sequencer: NewSequencer(store, clock),
		Events:    NewEventLog(store, clock),
		Guard:     NewGuard(store, clock),
		Sizes:     sizes,
		Locations: locations,
		Clock:     clock,
		Log:       log,
	}
}

func (o *Orchestrator) log() *logrus.Logger {
	if o.Log != nil {
		return o.Log
	}
	return logrus.StandardLogger()
}

// =============================================================================
// SPLIT PROTOCOL
// =============================================================================

// Split transfers containers × units-per-container out of one parent batch
// into one newly created child batch, recording a single ancestry edge
// with proportion 1. Idempotent on RequestID.
func (o *Orchestrator) Split(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	first, prior, err := o.Guard.Claim(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if !first {
		var res SplitResult
		if err := o.replay(prior, &res); err != nil {
			return nil, err
		}
		return &res, nil
	}

	res, err := o.runSplit(ctx, req)
	return settle(ctx, o, req.RequestID, res, err)
}

func (o *Orchestrator) runSplit(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	state := stateStart

	// Step 1: validate. Terminal with no side effects.
	units := req.Units()
	if req.Containers <= 0 {
		return nil, &ValidationError{Field: "containers", Message: "must be positive"}
	}
	if req.UnitsPerContainer <= 0 {
		return nil, &ValidationError{Field: "units_per_container", Message: "must be positive"}
	}
	parent, err := o.loadOwnedBatch(ctx, req.OrgID, req.ParentID)
	if err != nil {
		return nil, err
	}
	spec, err := o.Sizes.GetSizeSpec(ctx, req.TargetSizeSpec)
	if err != nil {
		return nil, err
	}
	if err := o.checkLocation(ctx, req.TargetLocation); err != nil {
		return nil, err
	}

	// Step 2: classify target phase; allocate child number. Sequencing
	// happens before any ledger debit, so a failure here needs no
	// compensation.
	phase, err := ClassifyPhase(*spec)
	if err != nil {
		return nil, err
	}
	number, err := o.Sequencer.Next(ctx, req.OrgID, phase)
	if err != nil {
		return nil, err
	}

	// Step 3: create the child batch row.
	child := Batch{
		ID:              NewBatchID(),
		Number:          number,
		OrgID:           req.OrgID,
		VarietyID:       parent.VarietyID,
		SizeSpecID:      req.TargetSizeSpec,
		LocationID:      req.TargetLocation,
		Phase:           phase,
		Status:          StatusGrowing,
		Quantity:        units,
		InitialQuantity: units,
		CreatedAt:       o.Clock.Now(),
	}
	if err := o.Batches.CreateBatch(ctx, child); err != nil {
		return nil, err
	}
	state = stateChildCreated

	// Step 4: debit the parent.
	remaining, err := o.Ledger.Debit(ctx, req.ParentID, units)
	if err != nil {
		return nil, o.compensateSplit(ctx, req, child, state, err)
	}
	state = stateParentDebited

	// Step 5: link ancestry, proportion 1.
	if err := o.Recorder.Link(ctx, parent.ID, child.ID, decimal.NewFromInt(1)); err != nil {
		return nil, o.compensateSplit(ctx, req, child, state, err)
	}
	state = stateAncestryLinked

	// Step 6: append events. Non-fatal: ledger and ancestry are already
	// consistent. Failures are logged for alerting, never compensated.
	o.appendEvent(ctx, BatchEvent{
		BatchID:   parent.ID,
		Type:      EventSplitOut,
		Payload:   EventPayload{CounterpartID: child.ID, CounterpartNumber: child.Number, Units: units},
		ActorID:   req.ActorID,
		RequestID: req.RequestID,
	})
	o.appendEvent(ctx, BatchEvent{
		BatchID:   child.ID,
		Type:      EventSplitIn,
		Payload:   EventPayload{CounterpartID: parent.ID, CounterpartNumber: parent.Number, Units: units},
		ActorID:   req.ActorID,
		RequestID: req.RequestID,
	})
	state = stateEventsLogged

	// Step 7: best-effort auto-archive of an emptied parent.
	if req.AutoArchiveParent && remaining == 0 {
		o.archiveBestEffort(ctx, parent.ID, req.ActorID, req.RequestID)
	}

	state = stateDone
	o.log().WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"parent":     parent.ID,
		"child":      child.ID,
		"units":      units,
		"state":      state.String(),
	}).Info("split applied")

	return &SplitResult{Child: child, ParentRemaining: remaining}, nil
}

// compensateSplit unwinds the completed steps of a split in reverse order.
func (o *Orchestrator) compensateSplit(ctx context.Context, req SplitRequest, child Batch, reached sagaState, cause error) error {
	o.log().WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"child":      child.ID,
		"reached":    reached.String(),
		"state":      stateCompensating.String(),
	}).WithError(cause).Warn("split failed, compensating")

	if reached >= stateParentDebited {
		if _, err := o.Ledger.Credit(ctx, req.ParentID, req.Units()); err != nil {
			return o.escalate(req.RequestID, cause, err)
		}
	}
	if err := o.deleteChild(ctx, child.ID); err != nil {
		return o.escalate(req.RequestID, cause, err)
	}

	o.appendEvent(ctx, BatchEvent{
		BatchID:   req.ParentID,
		Type:      EventCompensated,
		Payload:   EventPayload{CounterpartID: child.ID, Units: req.Units(), Note: "split rolled back: " + cause.Error()},
		ActorID:   req.ActorID,
		RequestID: req.RequestID,
	})
	return cause
}

// =============================================================================
// MERGE PROTOCOL
// =============================================================================

// Merge creates one child batch by debiting several source batches, each
// contributing a known share. The contributed units must sum exactly to
// RequiredUnits; there are no partial merges. Idempotent on RequestID.
func (o *Orchestrator) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	first, prior, err := o.Guard.Claim(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if !first {
		var res MergeResult
		if err := o.replay(prior, &res); err != nil {
			return nil, err
		}
		return &res, nil
	}

	res, err := o.runMerge(ctx, req)
	return settle(ctx, o, req.RequestID, res, err)
}

func (o *Orchestrator) runMerge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	// Step 1: validate. The sum check here and the per-source availability
	// check at debit time are deliberately two separate checks at two
	// separate steps, so the caller can tell which failure mode occurred.
	if req.RequiredUnits <= 0 {
		return nil, &ValidationError{Field: "required_units", Message: "must be positive"}
	}
	if len(req.Sources) == 0 {
		return nil, &ValidationError{Field: "sources", Message: "at least one source batch is required"}
	}
	seen := make(map[BatchID]bool, len(req.Sources))
	for i, src := range req.Sources {
		if src.Units <= 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("sources[%d].units", i), Message: "must be positive"}
		}
		if seen[src.BatchID] {
			return nil, &ValidationError{Field: fmt.Sprintf("sources[%d]", i), Message: "duplicate source batch " + string(src.BatchID)}
		}
		seen[src.BatchID] = true
	}
	if total := req.TotalSourceUnits(); total != req.RequiredUnits {
		return nil, &ValidationError{
			Field:   "sources",
			Message: fmt.Sprintf("contributed units sum to %d, required total is %d", total, req.RequiredUnits),
		}
	}
	sources := make(map[BatchID]*Batch, len(req.Sources))
	for _, src := range req.Sources {
		b, err := o.loadOwnedBatch(ctx, req.OrgID, src.BatchID)
		if err != nil {
			return nil, err
		}
		sources[src.BatchID] = b
	}
	spec, err := o.Sizes.GetSizeSpec(ctx, req.TargetSizeSpec)
	if err != nil {
		return nil, err
	}
	if err := o.checkLocation(ctx, req.TargetLocation); err != nil {
		return nil, err
	}
	phase, err := ClassifyPhase(*spec)
	if err != nil {
		return nil, err
	}
	number, err := o.Sequencer.Next(ctx, req.OrgID, phase)
	if err != nil {
		return nil, err
	}

	// Step 2: create the child with the full requested quantity.
	child := Batch{
		ID:              NewBatchID(),
		Number:          number,
		OrgID:           req.OrgID,
		VarietyID:       req.TargetVariety,
		SizeSpecID:      req.TargetSizeSpec,
		LocationID:      req.TargetLocation,
		Phase:           phase,
		Status:          StatusGrowing,
		Quantity:        req.RequiredUnits,
		InitialQuantity: req.RequiredUnits,
		CreatedAt:       o.Clock.Now(),
	}
	if err := o.Batches.CreateBatch(ctx, child); err != nil {
		return nil, err
	}

	// Step 3: debit each source in request order, tracking the prefix of
	// successful debits. A failure partway through unwinds exactly that
	// prefix and deletes the child.
	remainings := make([]int, len(req.Sources))
	for i, src := range req.Sources {
		remaining, err := o.Ledger.Debit(ctx, src.BatchID, src.Units)
		if err != nil {
			return nil, o.compensateMerge(ctx, req, child, req.Sources[:i], err)
		}
		remainings[i] = remaining
	}

	// Step 4: link one edge per source, proportion contributed/total.
	// Proportions sum to 1 by construction; assert it anyway before the
	// recorder is invoked, since the recorder does not recompute it.
	total := decimal.NewFromInt(int64(req.RequiredUnits))
	edges := make([]AncestryEdge, len(req.Sources))
	for i, src := range req.Sources {
		edges[i] = AncestryEdge{
			ParentID:   src.BatchID,
			ChildID:    child.ID,
			Proportion: decimal.NewFromInt(int64(src.Units)).Div(total),
		}
	}
	if !ProportionsSumToOne(edges) {
		err := fmt.Errorf("%w: merge proportions do not sum to 1", ErrConflict)
		return nil, o.compensateMerge(ctx, req, child, req.Sources, err)
	}
	if err := o.Recorder.LinkMany(ctx, edges); err != nil {
		return nil, o.compensateMerge(ctx, req, child, req.Sources, err)
	}

	// Step 5: events, all sharing the request id. Non-fatal.
	for _, src := range req.Sources {
		o.appendEvent(ctx, BatchEvent{
			BatchID:   src.BatchID,
			Type:      EventMergeOut,
			Payload:   EventPayload{CounterpartID: child.ID, CounterpartNumber: child.Number, Units: src.Units},
			ActorID:   req.ActorID,
			RequestID: req.RequestID,
		})
	}
	o.appendEvent(ctx, BatchEvent{
		BatchID:   child.ID,
		Type:      EventMergeIn,
		Payload:   EventPayload{Units: req.RequiredUnits, Note: fmt.Sprintf("merged from %d batches", len(req.Sources))},
		ActorID:   req.ActorID,
		RequestID: req.RequestID,
	})

	// Step 6: best-effort per-source auto-archive, independent per source.
	for i, src := range req.Sources {
		if src.AutoArchiveIfEmpty && remainings[i] == 0 {
			o.archiveBestEffort(ctx, src.BatchID, req.ActorID, req.RequestID)
		}
	}

	o.log().WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"child":      child.ID,
		"sources":    len(req.Sources),
		"units":      req.RequiredUnits,
		"state":      stateDone.String(),
	}).Info("merge applied")

	return &MergeResult{Child: child}, nil
}

// compensateMerge credits back every successfully debited source and
// deletes the child batch.
func (o *Orchestrator) compensateMerge(ctx context.Context, req MergeRequest, child Batch, debited []MergeSource, cause error) error {
	o.log().WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"child":      child.ID,
		"debited":    len(debited),
		"state":      stateCompensating.String(),
	}).WithError(cause).Warn("merge failed, compensating")

	var compErr error
	for _, src := range debited {
		if _, err := o.Ledger.Credit(ctx, src.BatchID, src.Units); err != nil && compErr == nil {
			compErr = err
		}
	}
	if compErr != nil {
		return o.escalate(req.RequestID, cause, compErr)
	}
	if err := o.deleteChild(ctx, child.ID); err != nil {
		return o.escalate(req.RequestID, cause, err)
	}

	for _, src := range debited {
		o.appendEvent(ctx, BatchEvent{
			BatchID:   src.BatchID,
			Type:      EventCompensated,
			Payload:   EventPayload{CounterpartID: child.ID, Units: src.Units, Note: "merge rolled back: " + cause.Error()},
			ActorID:   req.ActorID,
			RequestID: req.RequestID,
		})
	}
	return cause
}

// =============================================================================
// INTAKE - Root batch creation (no parents)
// =============================================================================

// Intake creates a root batch: delivered or freshly sown material entering
// the system with no ancestry. Idempotent on RequestID.
func (o *Orchestrator) Intake(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	first, prior, err := o.Guard.Claim(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if !first {
		var res IntakeResult
		if err := o.replay(prior, &res); err != nil {
			return nil, err
		}
		return &res, nil
	}

	res, err := o.runIntake(ctx, req)
	return settle(ctx, o, req.RequestID, res, err)
}

func (o *Orchestrator) runIntake(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	if req.Units <= 0 {
		return nil, &ValidationError{Field: "units", Message: "must be positive"}
	}
	spec, err := o.Sizes.GetSizeSpec(ctx, req.SizeSpec)
	if err != nil {
		return nil, err
	}
	if err := o.checkLocation(ctx, req.Location); err != nil {
		return nil, err
	}
	phase, err := ClassifyPhase(*spec)
	if err != nil {
		return nil, err
	}
	number, err := o.Sequencer.Next(ctx, req.OrgID, phase)
	if err != nil {
		return nil, err
	}

	b := Batch{
		ID:              NewBatchID(),
		Number:          number,
		OrgID:           req.OrgID,
		VarietyID:       req.VarietyID,
		SizeSpecID:      req.SizeSpec,
		LocationID:      req.Location,
		Phase:           phase,
		Status:          StatusGrowing,
		Quantity:        req.Units,
		InitialQuantity: req.Units,
		CreatedAt:       o.Clock.Now(),
	}
	if err := o.Batches.CreateBatch(ctx, b); err != nil {
		return nil, err
	}

	o.appendEvent(ctx, BatchEvent{
		BatchID:   b.ID,
		Type:      EventIntake,
		Payload:   EventPayload{Units: req.Units, Note: req.Note},
		ActorID:   req.ActorID,
		RequestID: req.RequestID,
	})

	return &IntakeResult{Batch: b}, nil
}

// =============================================================================
// ARCHIVAL SWEEP
// =============================================================================

// ArchiveEmpty archives every unarchived zero-quantity batch of an org.
// Used by the background archiver; each batch is independent, one failure
// does not stop the sweep. Returns how many batches were archived.
func (o *Orchestrator) ArchiveEmpty(ctx context.Context, org OrgID) (int, error) {
	empties, err := o.Batches.ListEmptyGrowing(ctx, org)
	if err != nil {
		return 0, err
	}

	sweepID := fmt.Sprintf("sweep-%d", o.Clock.Now().UnixNano())
	archived := 0
	for _, b := range empties {
		if err := o.Batches.ArchiveBatch(ctx, b.ID, o.Clock.Now()); err != nil {
			o.log().WithError(err).WithField("batch", b.ID).Warn("archive sweep: batch not archived")
			continue
		}
		o.appendEvent(ctx, BatchEvent{
			BatchID:   b.ID,
			Type:      EventArchive,
			Payload:   EventPayload{Note: "archived by sweep: quantity reached zero"},
			ActorID:   "system",
			RequestID: sweepID,
		})
		archived++
	}
	return archived, nil
}

// =============================================================================
// SHARED STEPS
// =============================================================================

// settle releases or settles the idempotency claim based on the saga
// outcome, then hands the result back to the caller.
func settle[T any](ctx context.Context, o *Orchestrator, requestID string, res *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, ErrUnrecoverable) {
			// The ledger may be inconsistent; keep the claim pending so the
			// request id stays blocked until an operator resolves it.
			return nil, err
		}
		if relErr := o.Guard.Release(ctx, requestID); relErr != nil {
			o.log().WithError(relErr).WithField("request_id", requestID).
				Error("failed to release idempotency claim; retries with this id will be rejected")
		}
		return nil, err
	}

	payload, mErr := json.Marshal(res)
	if mErr != nil {
		payload = []byte("{}")
	}
	if sErr := o.Guard.Settle(ctx, requestID, string(payload)); sErr != nil {
		// The mutation is applied; a retry would re-run against consistent
		// state and fail on the duplicate batch number. Alert.
		o.log().WithError(sErr).WithField("request_id", requestID).
			Error("failed to settle idempotency claim after successful mutation")
	}
	return res, nil
}

// replay decodes the cached result of an already-applied request. A claim
// still pending means another attempt is in flight (or died unrecovered).
func (o *Orchestrator) replay(prior *Claim, into any) error {
	if prior.State != ClaimApplied {
		return fmt.Errorf("%w: request %s", ErrDuplicateRequest, prior.RequestID)
	}
	if err := json.Unmarshal([]byte(prior.ResultJSON), into); err != nil {
		return fmt.Errorf("decoding cached result for request %s: %w", prior.RequestID, err)
	}
	return nil
}

// loadOwnedBatch fetches a batch and checks org ownership and liveness.
// Cross-org batches are reported as not found rather than forbidden.
func (o *Orchestrator) loadOwnedBatch(ctx context.Context, org OrgID, id BatchID) (*Batch, error) {
	b, err := o.Batches.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OrgID != org {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if b.Status == StatusArchived {
		return nil, &ValidationError{Field: "batch", Message: fmt.Sprintf("batch %s is archived", id)}
	}
	return b, nil
}

func (o *Orchestrator) checkLocation(ctx context.Context, id LocationID) error {
	ok, err := o.Locations.LocationExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	return nil
}

// deleteChild removes a compensated child batch and any ancestry edges
// that may have been written for it. Both deletes are no-ops when the
// rows are absent, so this is safe even if the step being undone never
// actually applied.
func (o *Orchestrator) deleteChild(ctx context.Context, id BatchID) error {
	if err := o.Edges.DeleteEdgesForChild(ctx, id); err != nil {
		return err
	}
	return o.Batches.DeleteBatch(ctx, id)
}

// appendEvent writes an event, logging (not failing) on error.
func (o *Orchestrator) appendEvent(ctx context.Context, ev BatchEvent) {
	if err := o.Events.Append(ctx, ev); err != nil {
		o.log().WithError(err).WithFields(logrus.Fields{
			"batch":      ev.BatchID,
			"event_type": ev.Type,
			"request_id": ev.RequestID,
		}).Error("event log append failed; ledger state is consistent, needs separate retry")
	}
}

// archiveBestEffort archives a batch and logs an ARCHIVE event. Failures
// never roll back the mutation.
func (o *Orchestrator) archiveBestEffort(ctx context.Context, id BatchID, actor, requestID string) {
	if err := o.Batches.ArchiveBatch(ctx, id, o.Clock.Now()); err != nil {
		o.log().WithError(err).WithField("batch", id).Warn("auto-archive failed")
		return
	}
	o.appendEvent(ctx, BatchEvent{
		BatchID:   id,
		Type:      EventArchive,
		Payload:   EventPayload{Note: "auto-archived: quantity reached zero"},
		ActorID:   actor,
		RequestID: requestID,
	})
}

// escalate wraps a failed compensation. This is the one case the protocol
// cannot self-heal; it is logged at error level for alerting.
func (o *Orchestrator) escalate(requestID string, cause, compErr error) error {
	e := &CompensationError{RequestID: requestID, Cause: cause, CompensateErr: compErr}
	o.log().WithFields(logrus.Fields{
		"request_id": requestID,
		"state":      stateFailed.String(),
	}).WithError(e).Error("COMPENSATION FAILED: ledger may be inconsistent, manual intervention required")
	return e
}
