/*
sequencer.go - Human-readable batch number allocation

PURPOSE:
  Generates globally unique, monotonically increasing batch numbers scoped
  per organization and phase. Numbers are allocated via an atomic
  increment-and-read on a per-(org, phase) counter; the client-side
  "read max, add one" pattern races and is never used.

FORMAT:
  <PHASE>-<yy>W<ww>-<ordinal>   e.g. FIN-26W35-0042

  The year/week part reflects when the number was allocated and makes the
  code readable on a nursery floor; the ordinal alone carries uniqueness
  and does not reset with the calendar.

ORDERING:
  Sequencing happens before any ledger debit, so a sequencer failure
  aborts the mutation with nothing to compensate.

SEE ALSO:
  - store.go: SequenceStore contract
  - phase.go: Phase classification feeding the scope
*/
package lineage

import (
	"context"
	"fmt"
)

// phaseCodes are the short prefixes used in batch numbers.
var phaseCodes = map[Phase]string{
	PhasePropagation:  "PRP",
	PhaseIntermediate: "INT",
	PhaseFinished:     "FIN",
}

// BatchSequencer allocates batch numbers.
type BatchSequencer interface {
	// Next returns the next batch number for an org and phase.
	Next(ctx context.Context, org OrgID, phase Phase) (BatchNumber, error)
}

// DefaultSequencer implements BatchSequencer over a SequenceStore.
type DefaultSequencer struct {
	Sequences SequenceStore
	Clock     Clock
}

func NewSequencer(sequences SequenceStore, clock Clock) *DefaultSequencer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DefaultSequencer{Sequences: sequences, Clock: clock}
}

// Next allocates and formats the next number.
func (s *DefaultSequencer) Next(ctx context.Context, org OrgID, phase Phase) (BatchNumber, error) {
	code, ok := phaseCodes[phase]
	if !ok {
		return "", &ValidationError{Field: "phase", Message: "unknown phase " + string(phase)}
	}

	n, err := s.Sequences.NextSequence(ctx, org, phase)
	if err != nil {
		return "", fmt.Errorf("sequence allocation for %s/%s: %w", org, phase, err)
	}

	year, week := s.Clock.Now().ISOWeek()
	return BatchNumber(fmt.Sprintf("%s-%02dW%02d-%04d", code, year%100, week, n)), nil
}
