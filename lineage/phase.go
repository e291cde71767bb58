/*
phase.go - Phase classification from container attributes

PURPOSE:
  Pure function mapping a container specification (kind, cell count) to a
  production phase. No I/O, no state.

POLICY:
  - "pot" containers, or any container with exactly 1 cell → finished
  - containers with at least ManyCellsThreshold cells → propagation
  - everything else → intermediate

  Plug trays with many small cells hold freshly propagated material; a plant
  in its own pot (or a 1-cell container) is in its final saleable form;
  mid-size trays are the growing-on stage in between.

SEE ALSO:
  - sequencer.go: Batch numbers are scoped per phase
  - orchestrator.go: Classifies the target spec before allocating a number
*/
package lineage

// ManyCellsThreshold is the cell count at or above which a container is
// considered a propagation tray.
const ManyCellsThreshold = 50

// ClassifyPhase maps a size spec to its production phase.
// Invalid input (unknown kind, non-positive cell count) is a validation
// error surfaced to the caller; it is never retried.
func ClassifyPhase(spec SizeSpec) (Phase, error) {
	if spec.CellCount < 1 {
		return "", &ValidationError{Field: "size_spec", Message: "cell count must be at least 1"}
	}
	switch spec.ContainerKind {
	case KindPot, KindTray:
	default:
		return "", &ValidationError{Field: "size_spec", Message: "unknown container kind " + string(spec.ContainerKind)}
	}

	if spec.ContainerKind == KindPot || spec.CellCount == 1 {
		return PhaseFinished, nil
	}
	if spec.CellCount >= ManyCellsThreshold {
		return PhasePropagation, nil
	}
	return PhaseIntermediate, nil
}
