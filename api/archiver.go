/*
archiver.go - Background sweep for empty growing batches

PURPOSE:
  Periodically archives batches whose quantity reached zero but that were
  never archived inline (an auto-archive flag was off, or the inline
  best-effort archive failed). Keeps batch lists free of exhausted stock
  without ever deleting history.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Sweeps one org list per tick via Orchestrator.ArchiveEmpty
  - Each sweep is idempotent; an already-archived batch is skipped

CONFIGURATION:
  - SweepInterval: How often to sweep (default: 1 hour)
  - Orgs: Which orgs to sweep
  - Enabled: Whether the archiver is active (default: true)

USAGE:
  arch := NewArchiver(store, engine, log)
  arch.Start()
  // ... later
  arch.Stop()

SEE ALSO:
  - lineage/orchestrator.go: ArchiveEmpty
  - handlers.go: inline auto-archive on split and merge
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verdant/batch-engine/lineage"
	"github.com/verdant/batch-engine/store/sqlite"
)

// Archiver sweeps empty growing batches into archived status.
type Archiver struct {
	Store         *sqlite.Store
	Engine        *lineage.Orchestrator
	SweepInterval time.Duration
	Orgs          []lineage.OrgID
	Enabled       bool

	log    *logrus.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewArchiver creates a new archiver for the given orgs.
func NewArchiver(store *sqlite.Store, engine *lineage.Orchestrator, log *logrus.Logger, orgs ...lineage.OrgID) *Archiver {
	return &Archiver{
		Store:         store,
		Engine:        engine,
		SweepInterval: 1 * time.Hour,
		Orgs:          orgs,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the background sweep.
func (a *Archiver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.log.Info("archiver disabled, not starting")
		return
	}

	a.ticker = time.NewTicker(a.SweepInterval)
	a.wg.Add(1)

	go a.run()

	a.log.WithField("interval", a.SweepInterval).Info("archiver started")
}

// Stop stops the background sweep and waits for an in-flight sweep.
func (a *Archiver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		a.log.Info("archiver stopped")
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()

	// Run immediately on start
	a.sweep()

	for {
		select {
		case <-a.ticker.C:
			a.sweep()
		case <-a.stop:
			return
		}
	}
}

func (a *Archiver) sweep() {
	ctx := context.Background()

	total := 0
	for _, org := range a.Orgs {
		n, err := a.Engine.ArchiveEmpty(ctx, org)
		if err != nil {
			a.log.WithError(err).WithField("org", org).Error("archive sweep failed")
			continue
		}
		total += n
	}

	if total > 0 {
		a.log.WithField("archived", total).Info("archive sweep completed")
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (a *Archiver) RunNow() {
	a.sweep()
}
