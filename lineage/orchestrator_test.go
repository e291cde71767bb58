package lineage_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant/batch-engine/catalog"
	"github.com/verdant/batch-engine/lineage"
	"github.com/verdant/batch-engine/lineage/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testOrg = lineage.OrgID("org-1")

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testCatalog() *catalog.Static {
	cat := catalog.NewStatic()
	cat.AddSizeSpec(lineage.SizeSpec{ID: "plug-288", Name: "288 plug tray", ContainerKind: lineage.KindTray, CellCount: 288})
	cat.AddSizeSpec(lineage.SizeSpec{ID: "tray-18", Name: "18-cell tray", ContainerKind: lineage.KindTray, CellCount: 18})
	cat.AddSizeSpec(lineage.SizeSpec{ID: "pot-9", Name: "9cm pot", ContainerKind: lineage.KindPot, CellCount: 1})
	cat.AddLocation("gh-1", "Greenhouse 1")
	cat.AddLocation("field-a", "Field A")
	return cat
}

func newTestEngine(t *testing.T) (*lineage.Orchestrator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clock := lineage.FixedClock{At: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
	engine := lineage.NewOrchestrator(mem, testCatalog(), testCatalog(), clock, quietLogger())
	return engine, mem
}

// intake creates a root batch for tests that need existing stock.
func intake(t *testing.T, engine *lineage.Orchestrator, requestID string, units int) lineage.Batch {
	t.Helper()
	res, err := engine.Intake(context.Background(), lineage.IntakeRequest{
		RequestID: requestID,
		ActorID:   "tester",
		OrgID:     testOrg,
		VarietyID: "lavandula-hidcote",
		SizeSpec:  "plug-288",
		Location:  "gh-1",
		Units:     units,
	})
	require.NoError(t, err)
	return res.Batch
}

func splitReq(requestID string, parent lineage.BatchID, containers, upc int) lineage.SplitRequest {
	return lineage.SplitRequest{
		RequestID:         requestID,
		ActorID:           "tester",
		OrgID:             testOrg,
		ParentID:          parent,
		TargetSizeSpec:    "tray-18",
		TargetLocation:    "gh-1",
		Containers:        containers,
		UnitsPerContainer: upc,
	}
}

func eventTypes(t *testing.T, mem *store.Memory, id lineage.BatchID) []lineage.BatchEventType {
	t.Helper()
	events, err := mem.EventsForBatch(context.Background(), id)
	require.NoError(t, err)
	types := make([]lineage.BatchEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// totalUnits sums live quantity across all batches of the org.
func totalUnits(t *testing.T, mem *store.Memory) int {
	t.Helper()
	batches, err := mem.ListBatches(context.Background(), testOrg)
	require.NoError(t, err)
	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	return total
}

// =============================================================================
// INTAKE
// =============================================================================

func TestIntake_CreatesRootBatch(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.Intake(ctx, lineage.IntakeRequest{
		RequestID: "req-1",
		ActorID:   "tester",
		OrgID:     testOrg,
		VarietyID: "lavandula-hidcote",
		SizeSpec:  "plug-288",
		Location:  "gh-1",
		Units:     576,
		Note:      "delivery from propagator",
	})
	require.NoError(t, err)

	assert.Equal(t, 576, res.Batch.Quantity)
	assert.Equal(t, 576, res.Batch.InitialQuantity)
	assert.Equal(t, lineage.PhasePropagation, res.Batch.Phase)
	assert.Equal(t, lineage.StatusGrowing, res.Batch.Status)
	assert.Equal(t, lineage.BatchNumber("PRP-26W11-0001"), res.Batch.Number)

	// Root batches have no parents
	parents, err := mem.ParentsOf(ctx, res.Batch.ID)
	require.NoError(t, err)
	assert.Empty(t, parents)

	assert.Equal(t, []lineage.BatchEventType{lineage.EventIntake}, eventTypes(t, mem, res.Batch.ID))
}

func TestIntake_Replay_ReturnsCachedResult(t *testing.T) {
	// GIVEN: An intake already applied under request id "req-1"
	// WHEN: The identical request is submitted again
	// THEN: The original batch is returned and no second batch is created

	engine, mem := newTestEngine(t)
	req := lineage.IntakeRequest{
		RequestID: "req-1",
		OrgID:     testOrg,
		VarietyID: "v",
		SizeSpec:  "plug-288",
		Location:  "gh-1",
		Units:     100,
	}

	first, err := engine.Intake(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Intake(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Batch.ID, second.Batch.ID)
	assert.Equal(t, first.Batch.Number, second.Batch.Number)

	batches, err := mem.ListBatches(context.Background(), testOrg)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

// =============================================================================
// SPLIT - HAPPY PATH
// =============================================================================

func TestSplit_MovesUnitsIntoNewChild(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	parent := intake(t, engine, "seed", 576)

	res, err := engine.Split(ctx, splitReq("split-1", parent.ID, 4, 18))
	require.NoError(t, err)

	// 4 trays x 18 cells = 72 units moved
	assert.Equal(t, 72, res.Child.Quantity)
	assert.Equal(t, 72, res.Child.InitialQuantity)
	assert.Equal(t, 504, res.ParentRemaining)
	assert.Equal(t, lineage.PhaseIntermediate, res.Child.Phase)
	assert.Equal(t, parent.VarietyID, res.Child.VarietyID, "variety is inherited from the parent")

	got, err := mem.GetBatch(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 504, got.Quantity)

	// Exactly one ancestry edge, proportion 1
	parents, err := mem.ParentsOf(ctx, res.Child.ID)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent.ID, parents[0].ParentID)
	assert.True(t, parents[0].Proportion.Equal(decimal.NewFromInt(1)))

	assert.Contains(t, eventTypes(t, mem, parent.ID), lineage.EventSplitOut)
	assert.Contains(t, eventTypes(t, mem, res.Child.ID), lineage.EventSplitIn)
}

func TestSplit_PhaseFollowsTargetSpec(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	parent := intake(t, engine, "seed", 500)

	req := splitReq("split-pots", parent.ID, 10, 1)
	req.TargetSizeSpec = "pot-9"

	res, err := engine.Split(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, lineage.PhaseFinished, res.Child.Phase)
	assert.Equal(t, lineage.BatchNumber("FIN-26W11-0001"), res.Child.Number)
}

func TestSplit_FullDrain_AutoArchivesParent(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	parent := intake(t, engine, "seed", 72)

	req := splitReq("split-all", parent.ID, 4, 18)
	req.AutoArchiveParent = true

	res, err := engine.Split(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ParentRemaining)

	got, err := mem.GetBatch(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, lineage.StatusArchived, got.Status)
	assert.NotNil(t, got.ArchivedAt)
	assert.Contains(t, eventTypes(t, mem, parent.ID), lineage.EventArchive)
}

func TestSplit_Replay_DoesNotDebitTwice(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	parent := intake(t, engine, "seed", 576)
	req := splitReq("split-1", parent.ID, 4, 18)

	first, err := engine.Split(ctx, req)
	require.NoError(t, err)
	second, err := engine.Split(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Child.ID, second.Child.ID)
	assert.Equal(t, first.ParentRemaining, second.ParentRemaining)

	got, err := mem.GetBatch(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 504, got.Quantity, "replay must not re-apply the debit")
}

// =============================================================================
// SPLIT - VALIDATION AND FAILURE
// =============================================================================

func TestSplit_RejectsNonPositiveQuantities(t *testing.T) {
	engine, _ := newTestEngine(t)
	parent := intake(t, engine, "seed", 100)

	_, err := engine.Split(context.Background(), splitReq("bad-1", parent.ID, 0, 18))
	assert.ErrorIs(t, err, lineage.ErrValidation)

	_, err = engine.Split(context.Background(), splitReq("bad-2", parent.ID, 4, -1))
	assert.ErrorIs(t, err, lineage.ErrValidation)
}

func TestSplit_UnknownParent_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Split(context.Background(), splitReq("bad", "no-such-batch", 1, 1))
	assert.ErrorIs(t, err, lineage.ErrBatchNotFound)
}

func TestSplit_CrossOrgParent_ReportedAsNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)
	parent := intake(t, engine, "seed", 100)

	req := splitReq("cross", parent.ID, 1, 10)
	req.OrgID = "org-2"

	_, err := engine.Split(context.Background(), req)
	assert.ErrorIs(t, err, lineage.ErrBatchNotFound, "cross-org access must not leak existence")
}

func TestSplit_ArchivedParent_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	parent := intake(t, engine, "seed", 100)
	require.NoError(t, mem.ArchiveBatch(ctx, parent.ID, time.Now()))

	_, err := engine.Split(ctx, splitReq("arch", parent.ID, 1, 10))
	assert.ErrorIs(t, err, lineage.ErrValidation)
}

func TestSplit_UnknownSizeSpecAndLocation(t *testing.T) {
	engine, _ := newTestEngine(t)
	parent := intake(t, engine, "seed", 100)

	req := splitReq("bad-spec", parent.ID, 1, 10)
	req.TargetSizeSpec = "no-such-spec"
	_, err := engine.Split(context.Background(), req)
	assert.ErrorIs(t, err, lineage.ErrSizeSpecNotFound)

	req = splitReq("bad-loc", parent.ID, 1, 10)
	req.TargetLocation = "no-such-location"
	_, err = engine.Split(context.Background(), req)
	assert.ErrorIs(t, err, lineage.ErrLocationNotFound)
}

func TestSplit_InsufficientQuantity_CompensatesAndAllowsRetry(t *testing.T) {
	// GIVEN: A parent with 50 units
	// WHEN: A split asks for 72
	// THEN: The debit fails, the created child is deleted, the parent is
	//       untouched, and the same request id is free for a retry

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	parent := intake(t, engine, "seed", 50)

	_, err := engine.Split(ctx, splitReq("short", parent.ID, 4, 18))
	require.Error(t, err)
	assert.ErrorIs(t, err, lineage.ErrInsufficientQuantity)

	var iq *lineage.InsufficientQuantityError
	require.ErrorAs(t, err, &iq)
	assert.Equal(t, 72, iq.Requested)
	assert.Equal(t, 50, iq.Available)
	assert.Equal(t, 22, iq.Shortfall())

	got, err := mem.GetBatch(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Quantity)

	batches, err := mem.ListBatches(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, batches, 1, "compensated child must be deleted")

	assert.Contains(t, eventTypes(t, mem, parent.ID), lineage.EventCompensated)

	// The claim was released; a corrected retry with the same id succeeds.
	res, err := engine.Split(ctx, splitReq("short", parent.ID, 2, 18))
	require.NoError(t, err)
	assert.Equal(t, 36, res.Child.Quantity)
}

// =============================================================================
// MERGE - HAPPY PATH
// =============================================================================

func TestMerge_CombinesSourcesWithProportionalAncestry(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	a := intake(t, engine, "seed-a", 300)
	b := intake(t, engine, "seed-b", 200)

	res, err := engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-1",
		ActorID:        "tester",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "field-a",
		TargetVariety:  "lavandula-mixed",
		RequiredUnits:  100,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 60},
			{BatchID: b.ID, Units: 40},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 100, res.Child.Quantity)
	assert.Equal(t, lineage.VarietyID("lavandula-mixed"), res.Child.VarietyID)

	gotA, _ := mem.GetBatch(ctx, a.ID)
	gotB, _ := mem.GetBatch(ctx, b.ID)
	assert.Equal(t, 240, gotA.Quantity)
	assert.Equal(t, 160, gotB.Quantity)

	// Proportions reflect each source's contribution and sum to 1
	parents, err := mem.ParentsOf(ctx, res.Child.ID)
	require.NoError(t, err)
	require.Len(t, parents, 2)
	assert.True(t, lineage.ProportionsSumToOne(parents))
	byParent := map[lineage.BatchID]decimal.Decimal{}
	for _, e := range parents {
		byParent[e.ParentID] = e.Proportion
	}
	assert.True(t, byParent[a.ID].Equal(decimal.RequireFromString("0.6")))
	assert.True(t, byParent[b.ID].Equal(decimal.RequireFromString("0.4")))

	assert.Contains(t, eventTypes(t, mem, a.ID), lineage.EventMergeOut)
	assert.Contains(t, eventTypes(t, mem, b.ID), lineage.EventMergeOut)
	assert.Contains(t, eventTypes(t, mem, res.Child.ID), lineage.EventMergeIn)
}

func TestMerge_NonTerminatingProportions_StillSumToOne(t *testing.T) {
	// 3 equal sources of a 99-unit merge give 1/3 each; the thirds are
	// non-terminating decimals but must still pass the sum-to-1 check.

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	a := intake(t, engine, "seed-a", 100)
	b := intake(t, engine, "seed-b", 100)
	c := intake(t, engine, "seed-c", 100)

	res, err := engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-thirds",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  99,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 33},
			{BatchID: b.ID, Units: 33},
			{BatchID: c.ID, Units: 33},
		},
	})
	require.NoError(t, err)

	parents, err := mem.ParentsOf(ctx, res.Child.ID)
	require.NoError(t, err)
	require.Len(t, parents, 3)
	assert.True(t, lineage.ProportionsSumToOne(parents))
}

func TestMerge_AutoArchivesEmptiedSources(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	a := intake(t, engine, "seed-a", 60)
	b := intake(t, engine, "seed-b", 200)

	_, err := engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-drain",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  100,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 60, AutoArchiveIfEmpty: true},
			{BatchID: b.ID, Units: 40, AutoArchiveIfEmpty: true},
		},
	})
	require.NoError(t, err)

	gotA, _ := mem.GetBatch(ctx, a.ID)
	gotB, _ := mem.GetBatch(ctx, b.ID)
	assert.Equal(t, lineage.StatusArchived, gotA.Status, "drained source is archived")
	assert.Equal(t, lineage.StatusGrowing, gotB.Status, "source with stock left stays growing")
}

// =============================================================================
// MERGE - VALIDATION AND FAILURE
// =============================================================================

func TestMerge_SumMismatch_RejectedBeforeAnyWrite(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	a := intake(t, engine, "seed-a", 300)
	b := intake(t, engine, "seed-b", 200)

	_, err := engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-bad-sum",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  100,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 60},
			{BatchID: b.ID, Units: 30},
		},
	})
	assert.ErrorIs(t, err, lineage.ErrValidation)

	gotA, _ := mem.GetBatch(ctx, a.ID)
	gotB, _ := mem.GetBatch(ctx, b.ID)
	assert.Equal(t, 300, gotA.Quantity)
	assert.Equal(t, 200, gotB.Quantity)
}

func TestMerge_DuplicateSource_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	a := intake(t, engine, "seed-a", 300)

	_, err := engine.Merge(context.Background(), lineage.MergeRequest{
		RequestID:      "merge-dup",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  100,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 60},
			{BatchID: a.ID, Units: 40},
		},
	})
	assert.ErrorIs(t, err, lineage.ErrValidation)
}

func TestMerge_PartialDebitFailure_UnwindsPrefix(t *testing.T) {
	// GIVEN: Three sources where the third has too little stock
	// WHEN: The merge debits in order and fails on the third
	// THEN: The first two debits are credited back, the child is deleted,
	//       and the request id is free for a retry

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	a := intake(t, engine, "seed-a", 100)
	b := intake(t, engine, "seed-b", 100)
	c := intake(t, engine, "seed-c", 10)

	_, err := engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-short",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  120,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 50},
			{BatchID: b.ID, Units: 50},
			{BatchID: c.ID, Units: 20},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, lineage.ErrInsufficientQuantity)

	gotA, _ := mem.GetBatch(ctx, a.ID)
	gotB, _ := mem.GetBatch(ctx, b.ID)
	gotC, _ := mem.GetBatch(ctx, c.ID)
	assert.Equal(t, 100, gotA.Quantity, "applied debit must be credited back")
	assert.Equal(t, 100, gotB.Quantity, "applied debit must be credited back")
	assert.Equal(t, 10, gotC.Quantity, "failed debit must not change the source")

	batches, err := mem.ListBatches(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, batches, 3, "compensated child must be deleted")

	assert.Contains(t, eventTypes(t, mem, a.ID), lineage.EventCompensated)
	assert.Contains(t, eventTypes(t, mem, b.ID), lineage.EventCompensated)
	assert.NotContains(t, eventTypes(t, mem, c.ID), lineage.EventCompensated,
		"a source whose debit never applied gets no compensation event")

	// Claim released: a corrected retry with the same id succeeds.
	_, err = engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-short",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  110,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 50},
			{BatchID: b.ID, Units: 50},
			{BatchID: c.ID, Units: 10},
		},
	})
	assert.NoError(t, err)
}

// failingEdgeStore wraps the memory store and fails ancestry inserts.
type failingEdgeStore struct {
	*store.Memory
}

func (f *failingEdgeStore) InsertEdges(ctx context.Context, edges []lineage.AncestryEdge) error {
	return fmt.Errorf("%w: edge insert refused", lineage.ErrTransientStore)
}

func TestMerge_AncestryFailure_CompensatesAllDebits(t *testing.T) {
	// GIVEN: A store whose ancestry writes always fail
	// WHEN: A merge reaches the linking step
	// THEN: Every source debit is credited back and the child is deleted

	mem := store.NewMemory()
	wrapped := &failingEdgeStore{Memory: mem}
	clock := lineage.FixedClock{At: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
	engine := lineage.NewOrchestrator(wrapped, testCatalog(), testCatalog(), clock, quietLogger())
	ctx := context.Background()

	a := intake(t, engine, "seed-a", 100)
	b := intake(t, engine, "seed-b", 100)

	_, err := engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-noedge",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  100,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 50},
			{BatchID: b.ID, Units: 50},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, lineage.ErrTransientStore)

	gotA, _ := mem.GetBatch(ctx, a.ID)
	gotB, _ := mem.GetBatch(ctx, b.ID)
	assert.Equal(t, 100, gotA.Quantity)
	assert.Equal(t, 100, gotB.Quantity)

	batches, err := mem.ListBatches(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

// brokenCreditStore wraps the memory store and fails credits, simulating a
// store that dies between a debit and its compensation.
type brokenCreditStore struct {
	*store.Memory
	failCredits bool
}

func (f *brokenCreditStore) CreditQuantity(ctx context.Context, id lineage.BatchID, units int) (int, error) {
	if f.failCredits {
		return 0, fmt.Errorf("%w: credit refused", lineage.ErrTransientStore)
	}
	return f.Memory.CreditQuantity(ctx, id, units)
}

func TestMerge_FailedCompensation_IsUnrecoverableAndBlocksRequestID(t *testing.T) {
	// GIVEN: A merge that fails mid-debit AND a store that refuses credits
	// WHEN: Compensation cannot restore the applied debits
	// THEN: The error is unrecoverable and the request id stays blocked

	mem := store.NewMemory()
	wrapped := &brokenCreditStore{Memory: mem}
	clock := lineage.FixedClock{At: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
	engine := lineage.NewOrchestrator(wrapped, testCatalog(), testCatalog(), clock, quietLogger())
	ctx := context.Background()

	a := intake(t, engine, "seed-a", 100)
	b := intake(t, engine, "seed-b", 10)
	wrapped.failCredits = true

	req := lineage.MergeRequest{
		RequestID:      "merge-doomed",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  100,
		Sources: []lineage.MergeSource{
			{BatchID: a.ID, Units: 80},
			{BatchID: b.ID, Units: 20},
		},
	}

	_, err := engine.Merge(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, lineage.ErrUnrecoverable)

	var ce *lineage.CompensationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "merge-doomed", ce.RequestID)
	assert.ErrorIs(t, ce.Cause, lineage.ErrInsufficientQuantity)

	// The claim stays pending: retrying the id is rejected, not replayed.
	wrapped.failCredits = false
	_, err = engine.Merge(ctx, req)
	assert.ErrorIs(t, err, lineage.ErrDuplicateRequest)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestMutations_ConserveTotalUnits(t *testing.T) {
	// Walk a batch through intake, splits, and a merge; live units across
	// all batches must equal the intaken total at every step.

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	intake(t, engine, "seed-1", 400)
	intake(t, engine, "seed-2", 200)
	require.Equal(t, 600, totalUnits(t, mem))

	batches, err := mem.ListBatches(ctx, testOrg)
	require.NoError(t, err)
	root1, root2 := batches[0], batches[1]

	s1, err := engine.Split(ctx, splitReq("split-1", root1.ID, 5, 18))
	require.NoError(t, err)
	require.Equal(t, 600, totalUnits(t, mem))

	_, err = engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-1",
		OrgID:          testOrg,
		TargetSizeSpec: "pot-9",
		TargetLocation: "field-a",
		TargetVariety:  "mixed",
		RequiredUnits:  120,
		Sources: []lineage.MergeSource{
			{BatchID: s1.Child.ID, Units: 40},
			{BatchID: root2.ID, Units: 80},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 600, totalUnits(t, mem))

	// Failed mutations conserve too.
	_, err = engine.Split(ctx, splitReq("split-too-big", root1.ID, 100, 18))
	require.Error(t, err)
	require.Equal(t, 600, totalUnits(t, mem))
}

// =============================================================================
// ORIGIN TRACING (end to end through the engine)
// =============================================================================

func TestTraceOrigins_ThroughSplitAndMerge(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	rootA := intake(t, engine, "seed-a", 300)
	rootB := intake(t, engine, "seed-b", 200)

	// Split rootA, then merge the child with rootB 60/40.
	s, err := engine.Split(ctx, splitReq("split-1", rootA.ID, 5, 18))
	require.NoError(t, err)

	m, err := engine.Merge(ctx, lineage.MergeRequest{
		RequestID:      "merge-1",
		OrgID:          testOrg,
		TargetSizeSpec: "tray-18",
		TargetLocation: "gh-1",
		TargetVariety:  "mixed",
		RequiredUnits:  100,
		Sources: []lineage.MergeSource{
			{BatchID: s.Child.ID, Units: 60},
			{BatchID: rootB.ID, Units: 40},
		},
	})
	require.NoError(t, err)

	origins, err := lineage.NewTracer(mem).TraceOrigins(ctx, m.Child.ID)
	require.NoError(t, err)
	require.Len(t, origins, 2)

	// The split edge has proportion 1, so rootA's share is the full 0.6.
	assert.True(t, origins[rootA.ID].Equal(decimal.RequireFromString("0.6")))
	assert.True(t, origins[rootB.ID].Equal(decimal.RequireFromString("0.4")))
}

// =============================================================================
// ARCHIVAL SWEEP
// =============================================================================

func TestArchiveEmpty_SweepsDrainedBatches(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	parent := intake(t, engine, "seed", 72)

	// Drain the parent without the auto-archive flag.
	_, err := engine.Split(ctx, splitReq("drain", parent.ID, 4, 18))
	require.NoError(t, err)

	n, err := engine.ArchiveEmpty(ctx, testOrg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mem.GetBatch(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, lineage.StatusArchived, got.Status)
	assert.Contains(t, eventTypes(t, mem, parent.ID), lineage.EventArchive)

	// The sweep is idempotent.
	n, err = engine.ArchiveEmpty(ctx, testOrg)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGuard_EmptyRequestID_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	parent := intake(t, engine, "seed", 100)

	_, err := engine.Split(context.Background(), splitReq("", parent.ID, 1, 10))
	assert.ErrorIs(t, err, lineage.ErrValidation)
}
