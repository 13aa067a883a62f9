// Package risk maps a pool's current price ratio against its
// historical percentile baseline. Pure: no I/O, no clock, no state.
package risk

import (
	"fmt"

	"github.com/softcane/spot-optimizer/internal/baseline"
)

// Risk states, ordered by escalation.
const (
	StateNormal     = "normal"
	StateSafeReturn = "safe-to-return"
	StateHighRisk   = "high-risk"
	StateEvent      = "event"
)

// Scores attached to each state. The ladder in Score picks the first
// matching branch, so a higher ratio can never produce a lower score
// under the same thresholds.
const (
	scoreEvent      = 0.9
	scoreAboveP92   = 0.8
	scoreSpike      = 0.6
	scoreNormal     = 0.3
	scoreSafeReturn = 0.2
	scoreNeutral    = 0.5
)

// Assessment is the scorer's verdict for one pool.
type Assessment struct {
	Score  float64
	State  string
	Reason string
}

// Score evaluates a pool's current spot price against its baseline.
// A pool absent from the table degrades to a neutral assessment so
// missing statistics never escalate risk on their own. A zero
// on-demand price is guarded to ratio 1.0.
func Score(table *baseline.Table, poolID string, spotPrice, onDemandPrice float64) Assessment {
	if table == nil {
		return Assessment{Score: scoreNeutral, State: StateNormal, Reason: "baseline statistics not loaded"}
	}

	pool, ok := table.Pool(poolID)
	if !ok {
		return Assessment{Score: scoreNeutral, State: StateNormal, Reason: fmt.Sprintf("unknown pool %s: not in baseline data", poolID)}
	}

	ratio := 1.0
	if onDemandPrice > 0 {
		ratio = spotPrice / onDemandPrice
	}

	cfg := table.Thresholds
	switch {
	case ratio > cfg.AbsoluteHigh:
		return Assessment{
			Score:  scoreEvent,
			State:  StateEvent,
			Reason: fmt.Sprintf("ratio %.3f exceeds absolute threshold %.3f", ratio, cfg.AbsoluteHigh),
		}
	case ratio > pool.RatioP92:
		return Assessment{
			Score:  scoreAboveP92,
			State:  StateHighRisk,
			Reason: fmt.Sprintf("ratio %.3f above p92 (%.3f)", ratio, pool.RatioP92),
		}
	case ratio > pool.RatioP50*(1+cfg.SpikeThreshold):
		return Assessment{
			Score:  scoreSpike,
			State:  StateHighRisk,
			Reason: fmt.Sprintf("ratio spike detected: %.3f vs p50 %.3f", ratio, pool.RatioP50),
		}
	case ratio < cfg.SafeReturn:
		return Assessment{
			Score:  scoreSafeReturn,
			State:  StateSafeReturn,
			Reason: fmt.Sprintf("ratio %.3f below safe threshold %.3f", ratio, cfg.SafeReturn),
		}
	default:
		return Assessment{
			Score:  scoreNormal,
			State:  StateNormal,
			Reason: fmt.Sprintf("normal conditions: ratio %.3f", ratio),
		}
	}
}
