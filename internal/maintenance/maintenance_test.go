package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/softcane/spot-optimizer/internal/baseline"
)

type monthKey struct {
	clientID int64
	year     int
	month    time.Month
}

type fakeSavingsStore struct {
	clients     []int64
	savings     map[monthKey]float64
	rollups     map[monthKey]float64
	failMonthly map[int64]bool

	snapshotCutoff time.Time
	decisionCutoff time.Time
}

func newFakeSavingsStore() *fakeSavingsStore {
	return &fakeSavingsStore{
		savings:     make(map[monthKey]float64),
		rollups:     make(map[monthKey]float64),
		failMonthly: make(map[int64]bool),
	}
}

func (f *fakeSavingsStore) ListActiveClientIDs(context.Context) ([]int64, error) {
	return f.clients, nil
}

func (f *fakeSavingsStore) MonthlySavings(_ context.Context, clientID int64, year int, month time.Month) (float64, error) {
	if f.failMonthly[clientID] {
		return 0, errors.New("boom")
	}
	return f.savings[monthKey{clientID, year, month}], nil
}

func (f *fakeSavingsStore) UpsertMonthlySavings(_ context.Context, clientID int64, year int, month time.Month, savings float64) error {
	f.rollups[monthKey{clientID, year, month}] = savings
	return nil
}

func (f *fakeSavingsStore) PruneSnapshots(_ context.Context, before time.Time) (int64, error) {
	f.snapshotCutoff = before
	return 3, nil
}

func (f *fakeSavingsStore) PruneDecisions(_ context.Context, before time.Time) (int64, error) {
	f.decisionCutoff = before
	return 2, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
}

func TestAggregateSavings(t *testing.T) {
	fs := newFakeSavingsStore()
	fs.clients = []int64{1, 2}
	fs.savings[monthKey{1, 2026, time.August}] = 120.0
	fs.savings[monthKey{1, 2026, time.July}] = 90.0
	fs.savings[monthKey{2, 2026, time.August}] = 40.0

	r := NewRunner(Config{Store: fs, Now: fixedNow})
	if err := r.AggregateSavings(context.Background()); err != nil {
		t.Fatalf("AggregateSavings: %v", err)
	}

	want := map[monthKey]float64{
		{1, 2026, time.August}: 120.0,
		{1, 2026, time.July}:   90.0,
		{2, 2026, time.August}: 40.0,
		{2, 2026, time.July}:   0.0,
	}
	for k, v := range want {
		if fs.rollups[k] != v {
			t.Errorf("rollup %+v = %v, want %v", k, fs.rollups[k], v)
		}
	}
}

func TestAggregateSavings_ClientFailureIsolated(t *testing.T) {
	fs := newFakeSavingsStore()
	fs.clients = []int64{1, 2}
	fs.failMonthly[1] = true
	fs.savings[monthKey{2, 2026, time.August}] = 40.0

	r := NewRunner(Config{Store: fs, Now: fixedNow})
	err := r.AggregateSavings(context.Background())
	if err == nil {
		t.Fatal("expected aggregate error for the failing client")
	}

	// The healthy client's rollup still landed.
	if fs.rollups[monthKey{2, 2026, time.August}] != 40.0 {
		t.Error("healthy client rollup missing after sibling failure")
	}
}

func TestPruneRetention_Cutoffs(t *testing.T) {
	fs := newFakeSavingsStore()
	r := NewRunner(Config{Store: fs, Now: fixedNow})

	if err := r.PruneRetention(context.Background()); err != nil {
		t.Fatalf("PruneRetention: %v", err)
	}

	wantSnap := fixedNow().Add(-SnapshotRetention)
	if !fs.snapshotCutoff.Equal(wantSnap) {
		t.Errorf("snapshot cutoff = %v, want %v", fs.snapshotCutoff, wantSnap)
	}
	wantDec := fixedNow().Add(-DecisionRetention)
	if !fs.decisionCutoff.Equal(wantDec) {
		t.Errorf("decision cutoff = %v, want %v", fs.decisionCutoff, wantDec)
	}
}

func writeManifest(t *testing.T, version string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "baseline.json")
	body := `{
		"version": "` + version + `",
		"config": {"ratio_spike_threshold": 0.30, "ratio_absolute_high": 0.95, "ratio_safe_return": 0.50},
		"pool_context": {"m5.large/us-east-1a": {"ratio_p50": 0.31, "ratio_p92": 0.44}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReloadBaseline(t *testing.T) {
	path := writeManifest(t, "v2")
	bs := baseline.NewStore(nil)
	r := NewRunner(Config{Store: newFakeSavingsStore(), Baselines: bs, ManifestPath: path, Now: fixedNow})

	if err := r.ReloadBaseline(context.Background()); err != nil {
		t.Fatalf("ReloadBaseline: %v", err)
	}
	table := bs.Current()
	if table == nil || table.Version != "v2" {
		t.Fatalf("table not swapped in: %+v", table)
	}

	// Same version loads again without replacing the table.
	if err := r.ReloadBaseline(context.Background()); err != nil {
		t.Fatalf("ReloadBaseline rerun: %v", err)
	}
	if bs.Current() != table {
		t.Error("identical version replaced the serving table")
	}
}

func TestReloadBaseline_BrokenManifestKeepsCurrent(t *testing.T) {
	path := writeManifest(t, "v1")
	bs := baseline.NewStore(nil)
	r := NewRunner(Config{Store: newFakeSavingsStore(), Baselines: bs, ManifestPath: path, Now: fixedNow})
	if err := r.ReloadBaseline(context.Background()); err != nil {
		t.Fatal(err)
	}
	served := bs.Current()

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.ReloadBaseline(context.Background()); err == nil {
		t.Fatal("expected error for broken manifest")
	}
	if bs.Current() != served {
		t.Error("broken manifest replaced the serving table")
	}
}

func TestRunOnce_JobsIndependent(t *testing.T) {
	fs := newFakeSavingsStore()
	fs.clients = []int64{1}
	fs.failMonthly[1] = true

	r := NewRunner(Config{Store: fs, Now: fixedNow})
	// The aggregation job fails; pruning must still run.
	r.RunOnce(context.Background())

	if fs.snapshotCutoff.IsZero() || fs.decisionCutoff.IsZero() {
		t.Error("prune job skipped after aggregation failure")
	}
}
