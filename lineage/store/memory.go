// Package store provides lineage.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verdant/batch-engine/lineage"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements lineage.Store with maps guarded by one mutex, giving
// the same atomicity guarantees the SQLite store gets from conditional
// UPDATEs: a debit checks and mutates under the lock, so concurrent
// debits against the same batch serialize.
type Memory struct {
	mu        sync.RWMutex
	batches   map[lineage.BatchID]lineage.Batch
	numbers   map[numberKey]bool
	edges     []lineage.AncestryEdge
	events    []lineage.BatchEvent
	sequences map[seqKey]int64
	claims    map[string]lineage.Claim
}

type numberKey struct {
	Org    lineage.OrgID
	Number lineage.BatchNumber
}

type seqKey struct {
	Org   lineage.OrgID
	Phase lineage.Phase
}

func NewMemory() *Memory {
	return &Memory{
		batches:   make(map[lineage.BatchID]lineage.Batch),
		numbers:   make(map[numberKey]bool),
		sequences: make(map[seqKey]int64),
		claims:    make(map[string]lineage.Claim),
	}
}

// =============================================================================
// BATCH STORE
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b lineage.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.ID]; exists {
		return fmt.Errorf("%w: batch id %s exists", lineage.ErrConflict, b.ID)
	}
	nk := numberKey{Org: b.OrgID, Number: b.Number}
	if m.numbers[nk] {
		return fmt.Errorf("%w: batch number %s exists", lineage.ErrConflict, b.Number)
	}
	m.batches[b.ID] = b
	m.numbers[nk] = true
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id lineage.BatchID) (*lineage.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
	}
	copied := b
	return &copied, nil
}

func (m *Memory) DeleteBatch(_ context.Context, id lineage.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil // idempotent no-op
	}
	delete(m.batches, id)
	delete(m.numbers, numberKey{Org: b.OrgID, Number: b.Number})
	return nil
}

func (m *Memory) DebitQuantity(_ context.Context, id lineage.BatchID, units int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
	}
	if b.Quantity < units {
		return 0, lineage.ErrInsufficientQuantity
	}
	b.Quantity -= units
	m.batches[id] = b
	return b.Quantity, nil
}

func (m *Memory) CreditQuantity(_ context.Context, id lineage.BatchID, units int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
	}
	b.Quantity += units
	if b.Quantity > b.InitialQuantity {
		b.Quantity = b.InitialQuantity // clamp: credit of an unapplied debit
	}
	m.batches[id] = b
	return b.Quantity, nil
}

func (m *Memory) ArchiveBatch(_ context.Context, id lineage.BatchID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
	}
	if b.Status == lineage.StatusArchived {
		return nil
	}
	b.Status = lineage.StatusArchived
	b.ArchivedAt = &at
	m.batches[id] = b
	return nil
}

func (m *Memory) ListBatches(_ context.Context, org lineage.OrgID) ([]lineage.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []lineage.Batch
	for _, b := range m.batches {
		if b.OrgID == org {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) ListEmptyGrowing(_ context.Context, org lineage.OrgID) ([]lineage.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []lineage.Batch
	for _, b := range m.batches {
		if b.OrgID == org && b.Quantity == 0 && b.Status != lineage.StatusArchived {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// ANCESTRY STORE
// =============================================================================

func (m *Memory) InsertEdges(_ context.Context, edges []lineage.AncestryEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// All-or-none: check for duplicates first.
	for _, e := range edges {
		for _, existing := range m.edges {
			if existing.ParentID == e.ParentID && existing.ChildID == e.ChildID {
				return fmt.Errorf("%w: edge %s→%s exists", lineage.ErrConflict, e.ParentID, e.ChildID)
			}
		}
	}
	m.edges = append(m.edges, edges...)
	return nil
}

func (m *Memory) DeleteEdgesForChild(_ context.Context, child lineage.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.ChildID != child {
			kept = append(kept, e)
		}
	}
	m.edges = kept
	return nil
}

func (m *Memory) ParentsOf(_ context.Context, child lineage.BatchID) ([]lineage.AncestryEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []lineage.AncestryEdge
	for _, e := range m.edges {
		if e.ChildID == child {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) ChildrenOf(_ context.Context, parent lineage.BatchID) ([]lineage.AncestryEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []lineage.AncestryEdge
	for _, e := range m.edges {
		if e.ParentID == parent {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, ev lineage.BatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) EventsForBatch(_ context.Context, id lineage.BatchID) ([]lineage.BatchEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []lineage.BatchEvent
	for _, ev := range m.events {
		if ev.BatchID == id {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *Memory) EventsForRequest(_ context.Context, requestID string) ([]lineage.BatchEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []lineage.BatchEvent
	for _, ev := range m.events {
		if ev.RequestID == requestID {
			result = append(result, ev)
		}
	}
	return result, nil
}

// =============================================================================
// SEQUENCE STORE
// =============================================================================

func (m *Memory) NextSequence(_ context.Context, org lineage.OrgID, phase lineage.Phase) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := seqKey{Org: org, Phase: phase}
	m.sequences[k]++
	return m.sequences[k], nil
}

// =============================================================================
// CLAIM STORE
// =============================================================================

func (m *Memory) InsertClaim(_ context.Context, requestID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.claims[requestID]; exists {
		return false, nil
	}
	m.claims[requestID] = lineage.Claim{
		RequestID: requestID,
		State:     lineage.ClaimPending,
		CreatedAt: at,
	}
	return true, nil
}

func (m *Memory) GetClaim(_ context.Context, requestID string) (*lineage.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[requestID]
	if !ok {
		return nil, nil
	}
	copied := c
	return &copied, nil
}

func (m *Memory) SettleClaim(_ context.Context, requestID string, resultJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[requestID]
	if !ok {
		return fmt.Errorf("%w: no claim for request %s", lineage.ErrConflict, requestID)
	}
	c.State = lineage.ClaimApplied
	c.ResultJSON = resultJSON
	m.claims[requestID] = c
	return nil
}

func (m *Memory) ReleaseClaim(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.claims, requestID)
	return nil
}
