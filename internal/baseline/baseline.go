// Package baseline holds the per-pool percentile statistics the risk
// scorer compares live price ratios against. The table is produced
// out-of-band by the training pipeline and refreshed here by swapping
// the whole table atomically; readers never see a partial update.
package baseline

import "sync/atomic"

// PoolContext is the historical ratio profile of one spot pool,
// immutable for the lifetime of its table.
type PoolContext struct {
	PoolID   string  `json:"-"`
	RatioP50 float64 `json:"ratio_p50"`
	RatioP92 float64 `json:"ratio_p92"`
}

// Thresholds are the global scoring knobs shipped alongside the pool
// percentiles in the model manifest.
type Thresholds struct {
	// SpikeThreshold flags a ratio more than this fraction above a
	// pool's p50 as a spike (0.3 means +30%).
	SpikeThreshold float64 `json:"ratio_spike_threshold"`
	// AbsoluteHigh is the ratio above which a capacity event is
	// assumed regardless of pool history.
	AbsoluteHigh float64 `json:"ratio_absolute_high"`
	// SafeReturn is the ratio below which returning to spot is
	// considered safe.
	SafeReturn float64 `json:"ratio_safe_return"`
}

// Table is one immutable refresh cycle of pool statistics.
type Table struct {
	Pools      map[string]PoolContext
	Thresholds Thresholds
	Version    string
}

// Pool returns the context for a pool id, if the table has one.
func (t *Table) Pool(id string) (PoolContext, bool) {
	ctx, ok := t.Pools[id]
	return ctx, ok
}

// Store hands out the current table and accepts wholesale swaps.
// Constructed once and injected into the engine; never a process
// singleton.
type Store struct {
	current atomic.Pointer[Table]
}

// NewStore creates a store seeded with the given table. A nil table
// is allowed: the scorer degrades to neutral scores until the first
// successful load.
func NewStore(t *Table) *Store {
	s := &Store{}
	if t != nil {
		s.current.Store(t)
	}
	return s
}

// Current returns the active table, or nil when none has loaded yet.
func (s *Store) Current() *Table {
	return s.current.Load()
}

// Swap atomically replaces the active table.
func (s *Store) Swap(t *Table) {
	s.current.Store(t)
}

// Loaded reports whether a table is available.
func (s *Store) Loaded() bool {
	return s.current.Load() != nil
}
