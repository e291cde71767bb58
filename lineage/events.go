/*
events.go - Append-only per-batch event log

PURPOSE:
  Every state change of every batch is recorded here, tagged with the
  caller-supplied request id. The log doubles as an audit trail and a
  recovery aid: a compensation writes a COMPENSATED event rather than
  erasing prior entries, so the corrective history stays visible.

INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. Every event carries the request id of the mutation that caused it.

FAILURE SEMANTICS:
  Event writes on the happy path happen after the ledger and ancestry are
  already consistent; a logging failure is non-fatal to the mutation but
  must be surfaced for alerting (the orchestrator logs it loudly).

SEE ALSO:
  - store.go: EventStore contract
  - orchestrator.go: Emits events per protocol step
*/
package lineage

import "context"

// EventLog records and queries batch events.
type EventLog interface {
	// Append writes one event. The ONLY write operation.
	Append(ctx context.Context, ev BatchEvent) error

	// ForBatch returns a batch's events, chronologically.
	ForBatch(ctx context.Context, id BatchID) ([]BatchEvent, error)

	// ForRequest returns all events of one mutation request.
	ForRequest(ctx context.Context, requestID string) ([]BatchEvent, error)
}

// DefaultEventLog implements EventLog over an EventStore.
type DefaultEventLog struct {
	Store EventStore
	Clock Clock
}

func NewEventLog(store EventStore, clock Clock) *DefaultEventLog {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DefaultEventLog{Store: store, Clock: clock}
}

func (l *DefaultEventLog) Append(ctx context.Context, ev BatchEvent) error {
	if ev.ID == "" {
		ev.ID = NewEventID()
	}
	if ev.At.IsZero() {
		ev.At = l.Clock.Now()
	}
	return l.Store.AppendEvent(ctx, ev)
}

func (l *DefaultEventLog) ForBatch(ctx context.Context, id BatchID) ([]BatchEvent, error) {
	return l.Store.EventsForBatch(ctx, id)
}

func (l *DefaultEventLog) ForRequest(ctx context.Context, requestID string) ([]BatchEvent, error) {
	return l.Store.EventsForRequest(ctx, requestID)
}
