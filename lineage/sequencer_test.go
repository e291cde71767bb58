package lineage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant/batch-engine/lineage"
	"github.com/verdant/batch-engine/lineage/store"
)

func TestSequencer_FormatAndIncrement(t *testing.T) {
	mem := store.NewMemory()
	clock := lineage.FixedClock{At: time.Date(2026, time.August, 26, 12, 0, 0, 0, time.UTC)}
	seq := lineage.NewSequencer(mem, clock)
	ctx := context.Background()

	n1, err := seq.Next(ctx, "org-1", lineage.PhaseFinished)
	require.NoError(t, err)
	assert.Equal(t, lineage.BatchNumber("FIN-26W35-0001"), n1)

	n2, err := seq.Next(ctx, "org-1", lineage.PhaseFinished)
	require.NoError(t, err)
	assert.Equal(t, lineage.BatchNumber("FIN-26W35-0002"), n2)
}

func TestSequencer_ScopedPerOrgAndPhase(t *testing.T) {
	mem := store.NewMemory()
	clock := lineage.FixedClock{At: time.Date(2026, time.August, 26, 12, 0, 0, 0, time.UTC)}
	seq := lineage.NewSequencer(mem, clock)
	ctx := context.Background()

	_, err := seq.Next(ctx, "org-1", lineage.PhaseFinished)
	require.NoError(t, err)

	// A different phase and a different org each start at 1.
	n, err := seq.Next(ctx, "org-1", lineage.PhasePropagation)
	require.NoError(t, err)
	assert.Equal(t, lineage.BatchNumber("PRP-26W35-0001"), n)

	n, err = seq.Next(ctx, "org-2", lineage.PhaseFinished)
	require.NoError(t, err)
	assert.Equal(t, lineage.BatchNumber("FIN-26W35-0001"), n)
}

func TestSequencer_OrdinalSurvivesWeekRollover(t *testing.T) {
	// The year/week part is display only; the ordinal keeps counting across
	// calendar boundaries so numbers never collide.

	mem := store.NewMemory()
	ctx := context.Background()

	seq := lineage.NewSequencer(mem, lineage.FixedClock{At: time.Date(2026, time.December, 28, 0, 0, 0, 0, time.UTC)})
	n1, err := seq.Next(ctx, "org-1", lineage.PhaseIntermediate)
	require.NoError(t, err)
	assert.Equal(t, lineage.BatchNumber("INT-26W53-0001"), n1)

	seq = lineage.NewSequencer(mem, lineage.FixedClock{At: time.Date(2027, time.January, 6, 0, 0, 0, 0, time.UTC)})
	n2, err := seq.Next(ctx, "org-1", lineage.PhaseIntermediate)
	require.NoError(t, err)
	assert.Equal(t, lineage.BatchNumber("INT-27W01-0002"), n2, "ordinal continues, only the week part moves")
}

func TestSequencer_UnknownPhase_Rejected(t *testing.T) {
	seq := lineage.NewSequencer(store.NewMemory(), nil)
	_, err := seq.Next(context.Background(), "org-1", "dormant")
	assert.ErrorIs(t, err, lineage.ErrValidation)
}
