/*
scheduler.go - Periodic stock drift check

PURPOSE:

	Live stock is maintained incrementally; the transaction history is the
	source of truth. This scheduler periodically compares the two and
	reports every (location, pallet type) where they disagree.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Publishes the number of drifting entries to the metrics gauge
  - With AutoReconcile, force-sets live stock to the history value through
    ReconcileToHistory, which leaves an audit entry per correction

CONFIGURATION:
  - CheckInterval: How often to check (default: 15 minutes)
  - AutoReconcile: Correct drift instead of only reporting it (default: false)

USAGE:

	scheduler := NewDriftScheduler(ledger, metrics, logger)
	scheduler.Start()
	// ... later
	scheduler.Stop()

SEE ALSO:
  - handlers.go: GetDrift and Reconcile endpoints (manual check and fix)
  - ledger/ledger.go: Drift
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/pallet-ledger/ledger"
)

// DriftActor is recorded on reconciliations made by the scheduler.
const DriftActor = "system:drift-check"

// DriftRecorder receives the drift count after each check.
type DriftRecorder interface {
	SetDrift(n int)
}

// DriftScheduler checks live stock against history on an interval.
type DriftScheduler struct {
	Ledger        *ledger.Ledger
	Recorder      DriftRecorder
	CheckInterval time.Duration
	AutoReconcile bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDriftScheduler creates a scheduler. recorder may be nil.
func NewDriftScheduler(l *ledger.Ledger, recorder DriftRecorder, logger zerolog.Logger) *DriftScheduler {
	return &DriftScheduler{
		Ledger:        l,
		Recorder:      recorder,
		CheckInterval: 15 * time.Minute,
		log:           logger.With().Str("component", "drift-scheduler").Logger(),
	}
}

// Start begins the scheduler. A non-positive interval leaves it disabled.
func (ds *DriftScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.CheckInterval <= 0 {
		ds.log.Info().Msg("drift check disabled")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.stop = make(chan struct{})
	ds.wg.Add(1)
	go ds.run()

	ds.log.Info().Dur("interval", ds.CheckInterval).Bool("auto_reconcile", ds.AutoReconcile).Msg("drift check started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (ds *DriftScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker == nil {
		return
	}
	ds.ticker.Stop()
	close(ds.stop)
	ds.wg.Wait()
	ds.ticker = nil
	ds.log.Info().Msg("drift check stopped")
}

func (ds *DriftScheduler) run() {
	defer ds.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ds.stop
		cancel()
	}()

	// Run immediately on start
	ds.RunNow(ctx)

	for {
		select {
		case <-ds.ticker.C:
			ds.RunNow(ctx)
		case <-ds.stop:
			return
		}
	}
}

// RunNow performs one check and returns the drift found before any correction.
func (ds *DriftScheduler) RunNow(ctx context.Context) []ledger.DriftEntry {
	entries := ds.Ledger.Drift()
	if len(entries) == 0 {
		ds.record(0)
		ds.log.Debug().Msg("no stock drift")
		return nil
	}

	for _, e := range entries {
		ds.log.Warn().
			Str("location", string(e.Location)).
			Str("pallet_type", string(e.PalletType)).
			Int("live", e.Live).
			Int("calculated", e.Calculated).
			Msg("stock drift detected")
	}

	if !ds.AutoReconcile {
		ds.record(len(entries))
		return entries
	}

	fixed := ds.reconcile(ctx, entries)
	ds.record(len(entries) - fixed)
	ds.log.Info().Int("found", len(entries)).Int("reconciled", fixed).Msg("drift check completed")
	return entries
}

// reconcile realigns each drifting cell with history as it stands at write
// time, not with the Calculated value captured by the check.
func (ds *DriftScheduler) reconcile(ctx context.Context, entries []ledger.DriftEntry) int {
	fixed := 0
	for _, e := range entries {
		if _, err := ds.Ledger.ReconcileToHistory(ctx, e.Location, e.PalletType, DriftActor); err != nil {
			ds.log.Error().Err(err).
				Str("location", string(e.Location)).
				Str("pallet_type", string(e.PalletType)).
				Msg("drift reconciliation failed")
			continue
		}
		fixed++
	}
	return fixed
}

func (ds *DriftScheduler) record(n int) {
	if ds.Recorder != nil {
		ds.Recorder.SetDrift(n)
	}
}
