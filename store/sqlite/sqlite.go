/*
Package sqlite provides a SQLite-backed implementation of the storage and
catalog interfaces.

PURPOSE:
  Implements lineage.Store (BatchStore, AncestryStore, EventStore,
  SequenceStore, ClaimStore) plus the SizeSpecCatalog and LocationCatalog
  collaborators using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

ATOMICITY:
  The engine's saga protocols assume the store exposes single-row atomic
  updates, not cross-row transactions. The three critical operations:
  - DebitQuantity: conditional UPDATE, fails if quantity < units. Two
    concurrent debits against the same batch can never both succeed when
    only one has enough stock.
  - NextSequence: INSERT ... ON CONFLICT DO UPDATE SET value = value + 1
    RETURNING value. Never "read max, add one".
  - InsertClaim: plain INSERT; a duplicate key means someone else holds
    the claim.

APPEND-ONLY ENFORCEMENT:
  ancestry_edges and batch_events have no UPDATE statements anywhere in
  this package. Edges are deleted only by DeleteEdgesForChild, the
  compensation path that removes a child batch that never became visible.

KEY TABLES:
  batches:            Current batch rows, CHECK-constrained so quantity
                      stays within [0, initial_quantity]
  ancestry_edges:     Append-only lineage graph
  batch_events:       Append-only per-batch event log
  sequences:          Per-(org, phase) batch number counters
  idempotency_claims: Request id claims
  size_specs:         Container catalog (external collaborator data)
  locations:          Location catalog (existence checks)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block and crash recovery is cleaner.

USAGE:
  store, err := sqlite.New("./data/nursery.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := lineage.NewOrchestrator(store, store, store, nil, nil)

SEE ALSO:
  - lineage/store.go: Interface definitions and contracts
  - lineage/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/verdant/batch-engine/lineage"
)

// Store implements all storage and catalog interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Batches (current inventory state)
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		org_id TEXT NOT NULL,
		variety_id TEXT NOT NULL,
		size_spec_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		initial_quantity INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		archived_at TEXT,
		CHECK (quantity >= 0),
		CHECK (quantity <= initial_quantity)
	);

	-- Batch numbers are unique within an organization
	CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_org_number
		ON batches(org_id, number);
	CREATE INDEX IF NOT EXISTS idx_batches_org_created
		ON batches(org_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_batches_org_empty
		ON batches(org_id, quantity) WHERE quantity = 0;

	-- Ancestry edges (append-only lineage graph)
	CREATE TABLE IF NOT EXISTS ancestry_edges (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		proportion TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_child ON ancestry_edges(child_id);

	-- Batch events (append-only log)
	CREATE TABLE IF NOT EXISTS batch_events (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		actor_id TEXT,
		request_id TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_batch ON batch_events(batch_id, at);
	CREATE INDEX IF NOT EXISTS idx_events_request ON batch_events(request_id);

	-- Batch number counters, one row per (org, phase)
	CREATE TABLE IF NOT EXISTS sequences (
		org_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (org_id, phase)
	);

	-- Idempotency claims
	CREATE TABLE IF NOT EXISTS idempotency_claims (
		request_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		result_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Size spec catalog (container kind + cell count)
	CREATE TABLE IF NOT EXISTS size_specs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		container_kind TEXT NOT NULL,
		cell_count INTEGER NOT NULL
	);

	-- Location catalog (existence checks only)
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BATCH STORE (lineage.BatchStore interface)
// =============================================================================

// CreateBatch inserts a new batch row.
func (s *Store) CreateBatch(ctx context.Context, b lineage.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO batches
		(id, number, org_id, variety_id, size_spec_id, location_id, phase, status,
		 quantity, initial_quantity, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Number, b.OrgID, b.VarietyID, b.SizeSpecID, b.LocationID,
		b.Phase, b.Status, b.Quantity, b.InitialQuantity,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(b.ArchivedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: batch %s (%s)", lineage.ErrConflict, b.ID, b.Number)
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetBatch returns a batch by id.
func (s *Store) GetBatch(ctx context.Context, id lineage.BatchID) (*lineage.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getBatch(ctx, id)
}

func (s *Store) getBatch(ctx context.Context, id lineage.BatchID) (*lineage.Batch, error) {
	query := `
		SELECT id, number, org_id, variety_id, size_spec_id, location_id, phase, status,
		       quantity, initial_quantity, created_at, archived_at
		FROM batches WHERE id = ?
	`
	b, err := scanBatch(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// DeleteBatch removes a batch row. Compensation only; absent rows are a no-op.
func (s *Store) DeleteBatch(ctx context.Context, id lineage.BatchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return nil
}

// DebitQuantity atomically subtracts units via a conditional UPDATE.
// The WHERE clause carries the underflow check; this is never implemented
// as a read-then-write pair.
func (s *Store) DebitQuantity(ctx context.Context, id lineage.BatchID, units int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET quantity = quantity - ? WHERE id = ? AND quantity >= ?`,
		units, id, units,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to debit batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to debit batch: %w", err)
	}
	if n == 0 {
		// Distinguish a missing batch from an underflow.
		var quantity int
		err := s.db.QueryRowContext(ctx, `SELECT quantity FROM batches WHERE id = ?`, id).Scan(&quantity)
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to debit batch: %w", err)
		}
		return 0, lineage.ErrInsufficientQuantity
	}

	var remaining int
	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM batches WHERE id = ?`, id).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to read remaining quantity: %w", err)
	}
	return remaining, nil
}

// CreditQuantity adds units back, clamped at initial_quantity so that
// compensating a debit that never applied is a safe no-op.
func (s *Store) CreditQuantity(ctx context.Context, id lineage.BatchID, units int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET quantity = MIN(initial_quantity, quantity + ?) WHERE id = ?`,
		units, id,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to credit batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to credit batch: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
	}

	var quantity int
	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM batches WHERE id = ?`, id).Scan(&quantity); err != nil {
		return 0, fmt.Errorf("failed to read credited quantity: %w", err)
	}
	return quantity, nil
}

// ArchiveBatch marks a batch archived. Already-archived batches are a no-op.
func (s *Store) ArchiveBatch(ctx context.Context, id lineage.BatchID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, archived_at = ? WHERE id = ? AND status != ?`,
		lineage.StatusArchived, at.UTC().Format(time.RFC3339Nano), id, lineage.StatusArchived,
	)
	if err != nil {
		return fmt.Errorf("failed to archive batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either absent or already archived; only the former is an error.
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM batches WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", lineage.ErrBatchNotFound, id)
		}
		return err
	}
	return nil
}

// ListBatches returns all batches for an org, newest first.
func (s *Store) ListBatches(ctx context.Context, org lineage.OrgID) ([]lineage.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, number, org_id, variety_id, size_spec_id, location_id, phase, status,
		       quantity, initial_quantity, created_at, archived_at
		FROM batches WHERE org_id = ?
		ORDER BY created_at DESC
	`
	return s.queryBatches(ctx, query, org)
}

// ListEmptyGrowing returns unarchived zero-quantity batches.
func (s *Store) ListEmptyGrowing(ctx context.Context, org lineage.OrgID) ([]lineage.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, number, org_id, variety_id, size_spec_id, location_id, phase, status,
		       quantity, initial_quantity, created_at, archived_at
		FROM batches WHERE org_id = ? AND quantity = 0 AND status != ?
		ORDER BY created_at ASC
	`
	return s.queryBatches(ctx, query, org, lineage.StatusArchived)
}

func (s *Store) queryBatches(ctx context.Context, query string, args ...any) ([]lineage.Batch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []lineage.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*lineage.Batch, error) {
	var (
		b          lineage.Batch
		createdAt  string
		archivedAt sql.NullString
	)

	err := row.Scan(
		&b.ID, &b.Number, &b.OrgID, &b.VarietyID, &b.SizeSpecID, &b.LocationID,
		&b.Phase, &b.Status, &b.Quantity, &b.InitialQuantity, &createdAt, &archivedAt,
	)
	if err != nil {
		return nil, err
	}

	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if archivedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, archivedAt.String)
		b.ArchivedAt = &t
	}
	return &b, nil
}

// =============================================================================
// ANCESTRY STORE (lineage.AncestryStore interface)
// =============================================================================

// InsertEdges inserts all edges or none, using a database transaction.
func (s *Store) InsertEdges(ctx context.Context, edges []lineage.AncestryEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, e := range edges {
		_, err := sqlTx.ExecContext(ctx,
			`INSERT INTO ancestry_edges (parent_id, child_id, proportion, created_at) VALUES (?, ?, ?, ?)`,
			e.ParentID, e.ChildID, e.Proportion.String(), e.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: edge %s→%s exists", lineage.ErrConflict, e.ParentID, e.ChildID)
			}
			return fmt.Errorf("failed to insert ancestry edge: %w", err)
		}
	}
	return sqlTx.Commit()
}

// DeleteEdgesForChild removes a compensated child's incoming edges.
func (s *Store) DeleteEdgesForChild(ctx context.Context, child lineage.BatchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM ancestry_edges WHERE child_id = ?`, child)
	if err != nil {
		return fmt.Errorf("failed to delete ancestry edges: %w", err)
	}
	return nil
}

// ParentsOf returns the incoming edges of a batch.
func (s *Store) ParentsOf(ctx context.Context, child lineage.BatchID) ([]lineage.AncestryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEdges(ctx,
		`SELECT parent_id, child_id, proportion, created_at FROM ancestry_edges WHERE child_id = ?`, child)
}

// ChildrenOf returns the outgoing edges of a batch.
func (s *Store) ChildrenOf(ctx context.Context, parent lineage.BatchID) ([]lineage.AncestryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEdges(ctx,
		`SELECT parent_id, child_id, proportion, created_at FROM ancestry_edges WHERE parent_id = ?`, parent)
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]lineage.AncestryEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestry edges: %w", err)
	}
	defer rows.Close()

	var edges []lineage.AncestryEdge
	for rows.Next() {
		var (
			e          lineage.AncestryEdge
			proportion string
			createdAt  string
		)
		if err := rows.Scan(&e.ParentID, &e.ChildID, &proportion, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ancestry edge: %w", err)
		}
		e.Proportion = mustDecimal(proportion)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// =============================================================================
// EVENT STORE (lineage.EventStore interface)
// =============================================================================

// AppendEvent adds an event to the log. Append-only.
func (s *Store) AppendEvent(ctx context.Context, ev lineage.BatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, _ := json.Marshal(ev.Payload)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_events (id, batch_id, event_type, payload_json, actor_id, request_id, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.BatchID, ev.Type, string(payloadJSON),
		nullString(ev.ActorID), ev.RequestID, ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// EventsForBatch returns all events of a batch, chronologically.
func (s *Store) EventsForBatch(ctx context.Context, id lineage.BatchID) ([]lineage.BatchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx,
		`SELECT id, batch_id, event_type, payload_json, actor_id, request_id, at
		 FROM batch_events WHERE batch_id = ? ORDER BY at ASC, id ASC`, id)
}

// EventsForRequest returns all events tagged with a request id.
func (s *Store) EventsForRequest(ctx context.Context, requestID string) ([]lineage.BatchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx,
		`SELECT id, batch_id, event_type, payload_json, actor_id, request_id, at
		 FROM batch_events WHERE request_id = ? ORDER BY at ASC, id ASC`, requestID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]lineage.BatchEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []lineage.BatchEvent
	for rows.Next() {
		var (
			ev          lineage.BatchEvent
			payloadJSON string
			actorID     sql.NullString
			at          string
		)
		if err := rows.Scan(&ev.ID, &ev.BatchID, &ev.Type, &payloadJSON, &actorID, &ev.RequestID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		json.Unmarshal([]byte(payloadJSON), &ev.Payload)
		ev.ActorID = actorID.String
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// SEQUENCE STORE (lineage.SequenceStore interface)
// =============================================================================

// NextSequence atomically increments and returns the per-(org, phase)
// counter. The upsert-with-RETURNING runs as one statement.
func (s *Store) NextSequence(ctx context.Context, org lineage.OrgID, phase lineage.Phase) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sequences (org_id, phase, value) VALUES (?, ?, 1)
		 ON CONFLICT(org_id, phase) DO UPDATE SET value = value + 1
		 RETURNING value`,
		org, phase,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s/%s: %w", org, phase, err)
	}
	return value, nil
}

// =============================================================================
// CLAIM STORE (lineage.ClaimStore interface)
// =============================================================================

// InsertClaim atomically inserts a pending claim; a duplicate key means
// the request id is already claimed.
func (s *Store) InsertClaim(ctx context.Context, requestID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_claims (request_id, state, created_at) VALUES (?, ?, ?)`,
		requestID, lineage.ClaimPending, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert claim: %w", err)
	}
	return true, nil
}

// GetClaim returns a claim, or nil if never claimed.
func (s *Store) GetClaim(ctx context.Context, requestID string) (*lineage.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c          lineage.Claim
		resultJSON sql.NullString
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, state, result_json, created_at FROM idempotency_claims WHERE request_id = ?`,
		requestID,
	).Scan(&c.RequestID, &c.State, &resultJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	c.ResultJSON = resultJSON.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

// SettleClaim marks a claim applied with its cached result.
func (s *Store) SettleClaim(ctx context.Context, requestID string, resultJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_claims SET state = ?, result_json = ? WHERE request_id = ?`,
		lineage.ClaimApplied, resultJSON, requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to settle claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no claim for request %s", lineage.ErrConflict, requestID)
	}
	return nil
}

// ReleaseClaim deletes a claim. Absent claims are a no-op.
func (s *Store) ReleaseClaim(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_claims WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// =============================================================================
// SIZE SPEC CATALOG (lineage.SizeSpecCatalog interface)
// =============================================================================

// PutSizeSpec upserts a size spec.
func (s *Store) PutSizeSpec(ctx context.Context, spec lineage.SizeSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO size_specs (id, name, container_kind, cell_count) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			container_kind = excluded.container_kind,
			cell_count = excluded.cell_count`,
		spec.ID, spec.Name, spec.ContainerKind, spec.CellCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save size spec: %w", err)
	}
	return nil
}

// GetSizeSpec returns a size spec by id.
func (s *Store) GetSizeSpec(ctx context.Context, id lineage.SizeSpecID) (*lineage.SizeSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var spec lineage.SizeSpec
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, container_kind, cell_count FROM size_specs WHERE id = ?`, id,
	).Scan(&spec.ID, &spec.Name, &spec.ContainerKind, &spec.CellCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", lineage.ErrSizeSpecNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get size spec: %w", err)
	}
	return &spec, nil
}

// ListSizeSpecs returns all size specs.
func (s *Store) ListSizeSpecs(ctx context.Context) ([]lineage.SizeSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, container_kind, cell_count FROM size_specs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list size specs: %w", err)
	}
	defer rows.Close()

	var specs []lineage.SizeSpec
	for rows.Next() {
		var spec lineage.SizeSpec
		if err := rows.Scan(&spec.ID, &spec.Name, &spec.ContainerKind, &spec.CellCount); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// =============================================================================
// LOCATION CATALOG (lineage.LocationCatalog interface)
// =============================================================================

// PutLocation upserts a location.
func (s *Store) PutLocation(ctx context.Context, id lineage.LocationID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return nil
}

// LocationExists checks whether a location exists.
func (s *Store) LocationExists(ctx context.Context, id lineage.LocationID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locations WHERE id = ?`, id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
