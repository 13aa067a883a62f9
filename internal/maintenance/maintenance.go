// Package maintenance runs the periodic housekeeping jobs: savings
// aggregation, retention pruning, and baseline reload.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/softcane/spot-optimizer/internal/baseline"
	"github.com/softcane/spot-optimizer/internal/metrics"
)

// Retention windows. Raw snapshots age out faster than the audited
// decision history.
const (
	SnapshotRetention = 30 * 24 * time.Hour
	DecisionRetention = 90 * 24 * time.Hour
)

// SavingsStore is the persistence slice the aggregation job reads and
// writes.
type SavingsStore interface {
	ListActiveClientIDs(ctx context.Context) ([]int64, error)
	MonthlySavings(ctx context.Context, clientID int64, year int, month time.Month) (float64, error)
	UpsertMonthlySavings(ctx context.Context, clientID int64, year int, month time.Month, savings float64) error
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
	PruneDecisions(ctx context.Context, before time.Time) (int64, error)
}

// Runner drives the maintenance jobs on a fixed interval.
type Runner struct {
	store     SavingsStore
	baselines *baseline.Store
	manifest  string
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Config carries the runner's dependencies.
type Config struct {
	Store SavingsStore
	// Baselines and ManifestPath enable the reload job; leave the path
	// empty to skip it.
	Baselines    *baseline.Store
	ManifestPath string
	Interval     time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewRunner creates a runner. Interval defaults to one hour.
func NewRunner(cfg Config) *Runner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:     cfg.Store,
		baselines: cfg.Baselines,
		manifest:  cfg.ManifestPath,
		interval:  interval,
		logger:    logger,
		now:       now,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the maintenance loop until the context is cancelled or
// Stop is called. A cycle runs immediately on start.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("maintenance runner starting", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("maintenance runner stopped by context")
			return ctx.Err()
		case <-r.stopCh:
			r.logger.Info("maintenance runner stopped")
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		close(r.stopCh)
		r.running = false
	}
}

// RunOnce executes every job once. Jobs are independent; one failing
// does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) {
	r.runJob(ctx, "aggregate_savings", r.AggregateSavings)
	r.runJob(ctx, "prune_retention", r.PruneRetention)
	if r.manifest != "" {
		r.runJob(ctx, "reload_baseline", r.ReloadBaseline)
	}
}

func (r *Runner) runJob(ctx context.Context, name string, job func(context.Context) error) {
	if err := job(ctx); err != nil {
		metrics.MaintenanceRunsTotal.WithLabelValues(name, "error").Inc()
		r.logger.Error("maintenance job failed", "job", name, "error", err)
		return
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(name, "ok").Inc()
}

// AggregateSavings recomputes the rolled-up monthly savings for the
// current and previous calendar month of every active client. The
// rollup is derived entirely from switch events, so rerunning it is
// harmless.
func (r *Runner) AggregateSavings(ctx context.Context) error {
	clients, err := r.store.ListActiveClientIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active clients: %w", err)
	}

	now := r.now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	months := []time.Time{thisMonth.AddDate(0, -1, 0), thisMonth}

	var failed int
	for _, clientID := range clients {
		for _, m := range months {
			total, err := r.store.MonthlySavings(ctx, clientID, m.Year(), m.Month())
			if err != nil {
				failed++
				r.logger.Error("aggregate monthly savings",
					"client_id", clientID, "year", m.Year(), "month", int(m.Month()), "error", err)
				continue
			}
			if err := r.store.UpsertMonthlySavings(ctx, clientID, m.Year(), m.Month(), total); err != nil {
				failed++
				r.logger.Error("store monthly savings",
					"client_id", clientID, "year", m.Year(), "month", int(m.Month()), "error", err)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("savings aggregation: %d of %d client-months failed", failed, len(clients)*len(months))
	}
	return nil
}

// PruneRetention removes snapshots and decisions past their windows.
func (r *Runner) PruneRetention(ctx context.Context) error {
	now := r.now().UTC()

	snaps, err := r.store.PruneSnapshots(ctx, now.Add(-SnapshotRetention))
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	decisions, err := r.store.PruneDecisions(ctx, now.Add(-DecisionRetention))
	if err != nil {
		return fmt.Errorf("prune decisions: %w", err)
	}
	if snaps > 0 || decisions > 0 {
		r.logger.Info("retention pruned", "snapshots", snaps, "decisions", decisions)
	}
	return nil
}

// ReloadBaseline re-reads the statistics manifest and swaps it in if
// it parses. A broken manifest leaves the current table serving.
func (r *Runner) ReloadBaseline(ctx context.Context) error {
	table, err := baseline.Load(r.manifest)
	if err != nil {
		return fmt.Errorf("reload baseline manifest: %w", err)
	}
	prev := r.baselines.Current()
	if prev != nil && prev.Version == table.Version {
		return nil
	}
	r.baselines.Swap(table)
	metrics.BaselinePools.Set(float64(len(table.Pools)))
	r.logger.Info("baseline table reloaded", "version", table.Version, "pools", len(table.Pools))
	return nil
}
