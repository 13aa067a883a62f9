// Package policy enforces the per-agent switching safety gates:
// enablement, weekly rate limit, and minimum pool dwell time. The
// gates are independent of risk scoring and run before it.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// RateWindow is the trailing window the switch rate limit counts over.
const RateWindow = 7 * 24 * time.Hour

// Gate names used in verdicts and metrics labels.
const (
	GateDisabled = "disabled"
	GateRate     = "rate_limit"
	GateDwell    = "dwell"
)

// SwitchHistory is the slice of persistence the guard reads. Both
// queries see committed switch events only; the engine's per-instance
// lock makes the read-then-write sequence safe.
type SwitchHistory interface {
	// CountAgentSwitches returns the number of switch events recorded
	// for the agent since the given time.
	CountAgentSwitches(ctx context.Context, agentID string, since time.Time) (int, error)
	// LastInstanceSwitch returns the most recent switch event touching
	// the instance as source or destination, or nil when none exists.
	LastInstanceSwitch(ctx context.Context, instanceID string) (*time.Time, error)
}

// Verdict is the outcome of the gate checks. A blocked verdict
// short-circuits the engine into a stay decision; it is not an error.
type Verdict struct {
	Blocked bool
	Gate    string
	Reason  string
}

// Guard evaluates the policy gates against recorded switch history.
type Guard struct {
	history SwitchHistory
}

// NewGuard creates a guard reading from the given history.
func NewGuard(history SwitchHistory) *Guard {
	return &Guard{history: history}
}

// Check runs the gates in order: enablement, rate, dwell. The first
// gate that fires wins. The dwell boundary is inclusive: elapsed time
// equal to the minimum does not block.
func (g *Guard) Check(ctx context.Context, now time.Time, pol domain.AgentPolicy, instanceID string) (Verdict, error) {
	if !pol.Enabled {
		return Verdict{Blocked: true, Gate: GateDisabled, Reason: "agent disabled"}, nil
	}

	count, err := g.history.CountAgentSwitches(ctx, pol.AgentID, now.Add(-RateWindow))
	if err != nil {
		return Verdict{}, fmt.Errorf("count recent switches for agent %s: %w", pol.AgentID, err)
	}
	if count >= pol.MaxSwitchesPerWeek {
		return Verdict{
			Blocked: true,
			Gate:    GateRate,
			Reason:  fmt.Sprintf("switch limit reached: %d/%d switches this week", count, pol.MaxSwitchesPerWeek),
		}, nil
	}

	last, err := g.history.LastInstanceSwitch(ctx, instanceID)
	if err != nil {
		return Verdict{}, fmt.Errorf("find last switch for instance %s: %w", instanceID, err)
	}
	if last != nil {
		elapsed := now.Sub(*last).Hours()
		if elapsed < pol.MinPoolDurationHours {
			return Verdict{
				Blocked: true,
				Gate:    GateDwell,
				Reason:  fmt.Sprintf("too soon to switch: %.1fh < %.1fh minimum", elapsed, pol.MinPoolDurationHours),
			}, nil
		}
	}

	return Verdict{}, nil
}
