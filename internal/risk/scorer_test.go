package risk

import (
	"strings"
	"testing"

	"github.com/softcane/spot-optimizer/internal/baseline"
)

func testTable() *baseline.Table {
	return &baseline.Table{
		Pools: map[string]baseline.PoolContext{
			"m5.large/us-east-1a": {PoolID: "m5.large/us-east-1a", RatioP50: 0.45, RatioP92: 0.60},
		},
		Thresholds: baseline.Thresholds{
			SpikeThreshold: 0.30,
			AbsoluteHigh:   0.95,
			SafeReturn:     0.50,
		},
		Version: "test",
	}
}

func TestScore_Branches(t *testing.T) {
	pool := "m5.large/us-east-1a"

	tests := []struct {
		name      string
		spot      float64
		onDemand  float64
		wantScore float64
		wantState string
		reasonHas string
	}{
		{
			name:      "above absolute threshold is an event",
			spot:      0.96,
			onDemand:  1.00,
			wantScore: 0.9,
			wantState: StateEvent,
			reasonHas: "absolute threshold",
		},
		{
			name:      "above p92 is high risk",
			spot:      0.70,
			onDemand:  1.00,
			wantScore: 0.8,
			wantState: StateHighRisk,
			reasonHas: "above p92",
		},
		{
			name:      "spike over p50 is high risk",
			spot:      0.59,
			onDemand:  1.00,
			wantScore: 0.6,
			wantState: StateHighRisk,
			reasonHas: "spike detected",
		},
		{
			name:      "below safe threshold allows return",
			spot:      0.20,
			onDemand:  1.00,
			wantScore: 0.2,
			wantState: StateSafeReturn,
			reasonHas: "below safe threshold",
		},
		{
			// Ratio 0.55 sits above the 0.50 safe line and under the
			// 0.585 spike bound.
			name:      "between bands is normal",
			spot:      0.55,
			onDemand:  1.00,
			wantScore: 0.3,
			wantState: StateNormal,
			reasonHas: "normal conditions",
		},
		{
			name:      "zero on-demand price guards ratio to 1.0",
			spot:      0.40,
			onDemand:  0,
			wantScore: 0.9,
			wantState: StateEvent,
			reasonHas: "absolute threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(testTable(), pool, tt.spot, tt.onDemand)
			if got.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.State != tt.wantState {
				t.Errorf("State = %q, want %q", got.State, tt.wantState)
			}
			if !strings.Contains(got.Reason, tt.reasonHas) {
				t.Errorf("Reason = %q, want substring %q", got.Reason, tt.reasonHas)
			}
		})
	}
}

func TestScore_NeutralOnMissingData(t *testing.T) {
	if got := Score(nil, "any", 0.5, 1.0); got.Score != 0.5 || got.State != StateNormal {
		t.Errorf("nil table: got %+v, want neutral normal", got)
	}

	got := Score(testTable(), "unknown-pool", 0.5, 1.0)
	if got.Score != 0.5 || got.State != StateNormal {
		t.Errorf("unknown pool: got %+v, want neutral normal", got)
	}
	if !strings.Contains(got.Reason, "unknown pool") {
		t.Errorf("Reason = %q, want unknown pool mention", got.Reason)
	}
}

// Raising the ratio under fixed thresholds never lowers the score.
func TestScore_Monotonic(t *testing.T) {
	pool := "m5.large/us-east-1a"
	prev := -1.0
	for _, spot := range []float64{0.10, 0.20, 0.55, 0.59, 0.70, 0.96, 1.50} {
		got := Score(testTable(), pool, spot, 1.00)
		if got.Score < prev {
			t.Fatalf("score dropped from %v to %v at spot %v", prev, got.Score, spot)
		}
		prev = got.Score
	}
}

func TestScore_AbsoluteHighDominates(t *testing.T) {
	// Ratio above both p92 and the absolute bound resolves to event.
	got := Score(testTable(), "m5.large/us-east-1a", 1.20, 1.00)
	if got.State != StateEvent || got.Score != 0.9 {
		t.Errorf("got %+v, want event at 0.9", got)
	}
}
