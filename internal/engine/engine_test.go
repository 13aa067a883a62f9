package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/softcane/spot-optimizer/internal/baseline"
	"github.com/softcane/spot-optimizer/internal/domain"
	"github.com/softcane/spot-optimizer/internal/policy"
	"github.com/softcane/spot-optimizer/internal/risk"
)

type fakeHistory struct {
	count int
	last  *time.Time
}

func (f *fakeHistory) CountAgentSwitches(context.Context, string, time.Time) (int, error) {
	return f.count, nil
}

func (f *fakeHistory) LastInstanceSwitch(context.Context, string) (*time.Time, error) {
	return f.last, nil
}

type fakeDecisions struct {
	saved []domain.Decision
}

func (f *fakeDecisions) SaveDecision(_ context.Context, d domain.Decision) error {
	f.saved = append(f.saved, d)
	return nil
}

func testBaselines() *baseline.Store {
	return baseline.NewStore(&baseline.Table{
		Pools: map[string]baseline.PoolContext{
			"m5.large/us-east-1a": {PoolID: "m5.large/us-east-1a", RatioP50: 0.45, RatioP92: 0.60},
			"m5.large/us-east-1b": {PoolID: "m5.large/us-east-1b", RatioP50: 0.45, RatioP92: 0.60},
		},
		Thresholds: baseline.Thresholds{
			SpikeThreshold: 0.30,
			AbsoluteHigh:   0.95,
			SafeReturn:     0.50,
		},
		Version: "test",
	})
}

func newTestEngine(history *fakeHistory, decisions *fakeDecisions) *Engine {
	return New(Config{
		Guard:     policy.NewGuard(history),
		Baselines: testBaselines(),
		Decisions: decisions,
		Now:       func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) },
	})
}

func testPolicy() domain.AgentPolicy {
	return domain.AgentPolicy{
		AgentID:              "agent-1",
		Enabled:              true,
		AutoSwitchEnabled:    true,
		MinSavingsPercent:    20,
		RiskThreshold:        0.7,
		MaxSwitchesPerWeek:   5,
		MinPoolDurationHours: 24,
	}
}

func spotInstance(pool string) domain.Instance {
	return domain.Instance{
		ID:            "i-1",
		ClientID:      1,
		AgentID:       "agent-1",
		CurrentMode:   domain.ModeSpot,
		CurrentPoolID: pool,
	}
}

func TestEvaluate_DisabledAgentStays(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	pol := testPolicy()
	pol.Enabled = false

	d, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1a"), pol, domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools:     []domain.PoolPrice{{PoolID: "m5.large/us-east-1a", Price: 0.55}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionStay || d.Allowed || d.RiskScore != 0 {
		t.Errorf("got %+v, want stay/not allowed/zero score", d)
	}
	if d.Reason != "agent disabled" {
		t.Errorf("Reason = %q", d.Reason)
	}
	if len(decisions.saved) != 0 {
		t.Errorf("gate rejection must not be audited, saved %d rows", len(decisions.saved))
	}
}

func TestEvaluate_HighRiskFallsBackToOnDemand(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	d, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1a"), testPolicy(), domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools:     []domain.PoolPrice{{PoolID: "m5.large/us-east-1a", Price: 0.70}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionFallbackOnDemand {
		t.Fatalf("Action = %q, want fallback", d.Action)
	}
	if d.RecommendedMode != domain.ModeOnDemand || d.RecommendedPoolID != "n/a" {
		t.Errorf("recommendation = %s/%s", d.RecommendedMode, d.RecommendedPoolID)
	}
	if diff := d.ExpectedSavingsHr - (-0.30); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("ExpectedSavingsHr = %v, want -0.30", d.ExpectedSavingsHr)
	}
	if !strings.Contains(d.Reason, "High risk detected") {
		t.Errorf("Reason = %q", d.Reason)
	}
	if len(decisions.saved) != 1 {
		t.Fatalf("saved %d decisions, want 1", len(decisions.saved))
	}
}

func TestEvaluate_HighRiskBelowThresholdStays(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	pol := testPolicy()
	pol.RiskThreshold = 0.85

	d, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1a"), pol, domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools:     []domain.PoolPrice{{PoolID: "m5.large/us-east-1a", Price: 0.70}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionStay {
		t.Errorf("Action = %q, want stay when score is under the threshold", d.Action)
	}
}

func TestEvaluate_SafeReturnSwitchesBackToSpot(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	inst := spotInstance("")
	inst.CurrentMode = domain.ModeOnDemand
	inst.CurrentPoolID = ""

	d, err := e.Evaluate(context.Background(), inst, testPolicy(), domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools: []domain.PoolPrice{
			{PoolID: "m5.large/us-east-1a", Price: 0.40},
			{PoolID: "m5.large/us-east-1b", Price: 0.48},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionSwitchPool || d.RecommendedPoolID != "m5.large/us-east-1a" {
		t.Fatalf("got %+v, want switch to us-east-1a", d)
	}
	if diff := d.ExpectedSavingsHr - 0.60; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("ExpectedSavingsHr = %v, want 0.60", d.ExpectedSavingsHr)
	}
	if !d.Allowed {
		t.Error("Allowed = false with auto switch enabled")
	}
	if !strings.Contains(d.Reason, "Safe to return to spot") {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestEvaluate_SafeReturnBelowMinSavingsStays(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	inst := spotInstance("")
	inst.CurrentMode = domain.ModeOnDemand

	pol := testPolicy()
	// A safe ratio under 0.50 always clears a 20% floor, so raise the
	// floor past the offered 55%.
	pol.MinSavingsPercent = 60

	d, err := e.Evaluate(context.Background(), inst, pol, domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools:     []domain.PoolPrice{{PoolID: "m5.large/us-east-1a", Price: 0.45}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionStay {
		t.Errorf("Action = %q, want stay below the savings floor", d.Action)
	}
	if len(decisions.saved) != 1 {
		t.Errorf("stay decisions past the gates are audited, saved %d", len(decisions.saved))
	}
}

func TestEvaluate_NormalStateMovesToCheaperPool(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	d, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1a"), testPolicy(), domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools: []domain.PoolPrice{
			{PoolID: "m5.large/us-east-1a", Price: 0.55},
			{PoolID: "m5.large/us-east-1b", Price: 0.30},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionSwitchPool || d.RecommendedPoolID != "m5.large/us-east-1b" {
		t.Fatalf("got %+v, want switch to us-east-1b", d)
	}
	if diff := d.ExpectedSavingsHr - 0.25; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("ExpectedSavingsHr = %v, want 0.25", d.ExpectedSavingsHr)
	}
	if !strings.Contains(d.Reason, "Better pool available") {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestEvaluate_StalePoolScoredFromCheapestQuote(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	// The instance's recorded pool is missing from the snapshot. The
	// cheapest quoted pool stands in, id and price together, so the
	// assessment uses that pool's baseline instead of degrading to
	// neutral on the stale id.
	d, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1x"), testPolicy(), domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools:     []domain.PoolPrice{{PoolID: "m5.large/us-east-1a", Price: 0.70}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.RiskScore != 0.8 || d.RiskState != risk.StateHighRisk {
		t.Errorf("assessment = %.1f/%s, want 0.8/high-risk from the fallback pool", d.RiskScore, d.RiskState)
	}
	if d.Action != domain.ActionFallbackOnDemand {
		t.Errorf("Action = %q, want fallback", d.Action)
	}
	if diff := d.ExpectedSavingsHr - (-0.30); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("ExpectedSavingsHr = %v, want -0.30", d.ExpectedSavingsHr)
	}
}

func TestEvaluate_StalePoolStaysOnOwnQuote(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	d, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1x"), testPolicy(), domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools:     []domain.PoolPrice{{PoolID: "m5.large/us-east-1a", Price: 0.55}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.RiskState != risk.StateNormal {
		t.Errorf("RiskState = %q, want normal", d.RiskState)
	}
	// No pool other than the fallback itself is quoted.
	if d.Action != domain.ActionStay || d.RecommendedPoolID != "m5.large/us-east-1a" {
		t.Errorf("got %s on %q, want stay on the fallback pool", d.Action, d.RecommendedPoolID)
	}
}

func TestEvaluate_OnDemandHighRiskKeepsFallback(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	inst := spotInstance("")
	inst.CurrentMode = domain.ModeOnDemand

	d, err := e.Evaluate(context.Background(), inst, testPolicy(), domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools:     []domain.PoolPrice{{PoolID: "m5.large/us-east-1a", Price: 0.70}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionFallbackOnDemand || d.RecommendedMode != domain.ModeOnDemand {
		t.Fatalf("got %s/%s, want fallback_ondemand/ondemand", d.Action, d.RecommendedMode)
	}
	if diff := d.ExpectedSavingsHr - (-0.30); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("ExpectedSavingsHr = %v, want -0.30", d.ExpectedSavingsHr)
	}
	if !strings.Contains(d.Reason, "High risk detected") {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestEvaluate_AutoSwitchDisabledKeepsRecommendation(t *testing.T) {
	decisions := &fakeDecisions{}
	e := newTestEngine(&fakeHistory{}, decisions)

	pol := testPolicy()
	pol.AutoSwitchEnabled = false

	d, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1a"), pol, domain.PricingSnapshot{
		OnDemandPrice: 1.00,
		SpotPools: []domain.PoolPrice{
			{PoolID: "m5.large/us-east-1a", Price: 0.55},
			{PoolID: "m5.large/us-east-1b", Price: 0.30},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != domain.ActionSwitchPool {
		t.Errorf("Action = %q, recommendation must survive the permission flag", d.Action)
	}
	if d.Allowed {
		t.Error("Allowed = true with auto switch disabled")
	}
}

func TestEvaluate_EmptyPoolListRejected(t *testing.T) {
	e := newTestEngine(&fakeHistory{}, &fakeDecisions{})

	_, err := e.Evaluate(context.Background(), spotInstance("m5.large/us-east-1a"), testPolicy(), domain.PricingSnapshot{
		OnDemandPrice: 1.00,
	})
	if !domain.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCheapestPool_TieBreaksOnPoolID(t *testing.T) {
	got := cheapestPool([]domain.PoolPrice{
		{PoolID: "pool-b", Price: 0.30},
		{PoolID: "pool-a", Price: 0.30},
		{PoolID: "pool-c", Price: 0.40},
	})
	if got.PoolID != "pool-a" {
		t.Errorf("cheapestPool = %q, want pool-a", got.PoolID)
	}
}

func TestCheapestOtherPool_SkipsCurrent(t *testing.T) {
	got, ok := cheapestOtherPool([]domain.PoolPrice{
		{PoolID: "pool-a", Price: 0.10},
		{PoolID: "pool-b", Price: 0.30},
	}, "pool-a")
	if !ok || got.PoolID != "pool-b" {
		t.Errorf("got %+v ok=%v, want pool-b", got, ok)
	}

	if _, ok := cheapestOtherPool([]domain.PoolPrice{{PoolID: "pool-a", Price: 0.10}}, "pool-a"); ok {
		t.Error("expected no candidate when only the current pool is quoted")
	}
}
