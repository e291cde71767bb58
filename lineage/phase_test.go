package lineage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verdant/batch-engine/lineage"
)

func TestClassifyPhase(t *testing.T) {
	tests := []struct {
		name string
		spec lineage.SizeSpec
		want lineage.Phase
	}{
		{"pot is finished", lineage.SizeSpec{ID: "pot-9", ContainerKind: lineage.KindPot, CellCount: 1}, lineage.PhaseFinished},
		{"multi-cell pot is still finished", lineage.SizeSpec{ID: "pot-odd", ContainerKind: lineage.KindPot, CellCount: 6}, lineage.PhaseFinished},
		{"single-cell tray is finished", lineage.SizeSpec{ID: "tray-1", ContainerKind: lineage.KindTray, CellCount: 1}, lineage.PhaseFinished},
		{"288 plug tray is propagation", lineage.SizeSpec{ID: "plug-288", ContainerKind: lineage.KindTray, CellCount: 288}, lineage.PhasePropagation},
		{"tray at the threshold is propagation", lineage.SizeSpec{ID: "tray-50", ContainerKind: lineage.KindTray, CellCount: 50}, lineage.PhasePropagation},
		{"tray just under the threshold is intermediate", lineage.SizeSpec{ID: "tray-49", ContainerKind: lineage.KindTray, CellCount: 49}, lineage.PhaseIntermediate},
		{"18-cell tray is intermediate", lineage.SizeSpec{ID: "tray-18", ContainerKind: lineage.KindTray, CellCount: 18}, lineage.PhaseIntermediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lineage.ClassifyPhase(tt.spec)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyPhase_RejectsInvalidSpecs(t *testing.T) {
	_, err := lineage.ClassifyPhase(lineage.SizeSpec{ID: "bad", ContainerKind: lineage.KindTray, CellCount: 0})
	assert.ErrorIs(t, err, lineage.ErrValidation)

	_, err = lineage.ClassifyPhase(lineage.SizeSpec{ID: "bad", ContainerKind: "bucket", CellCount: 10})
	assert.ErrorIs(t, err, lineage.ErrValidation)
}
