// Package ledger records realized switches reported by agents and
// keeps the savings accounting honest across replays.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
	"github.com/softcane/spot-optimizer/internal/metrics"
	"github.com/softcane/spot-optimizer/internal/store"
)

// SwitchStore is the persistence slice the ledger writes through.
type SwitchStore interface {
	ApplySwitch(ctx context.Context, app store.SwitchApplication) (bool, error)
	GetInstance(ctx context.Context, instanceID string, clientID int64) (domain.Instance, error)
}

// Ledger applies switch reports to the fleet state.
type Ledger struct {
	store  SwitchStore
	logger *slog.Logger
}

// New creates a ledger over the given store.
func New(s SwitchStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger}
}

// Report is one agent-reported switch. The agent may resend the same
// report after a network failure; SwitchedAt together with the agent
// and new instance identifies the event.
type Report struct {
	AgentID       string              `json:"agent_id"`
	Trigger       string              `json:"trigger"`
	OldInstanceID string              `json:"old_instance_id"`
	NewInstanceID string              `json:"new_instance_id"`
	FromMode      domain.CapacityMode `json:"from_mode"`
	ToMode        domain.CapacityMode `json:"to_mode"`
	FromPoolID    string              `json:"from_pool_id,omitempty"`
	ToPoolID      string              `json:"to_pool_id,omitempty"`
	InstanceType  string              `json:"instance_type"`
	Region        string              `json:"region"`
	Zone          string              `json:"az"`
	OnDemandPrice float64             `json:"on_demand_price"`
	OldSpotPrice  float64             `json:"old_spot_price"`
	NewSpotPrice  float64             `json:"new_spot_price"`
	SwitchedAt    time.Time           `json:"switched_at"`
}

func (r Report) validate() error {
	switch {
	case r.AgentID == "":
		return domain.Invalid("agent_id", "is required")
	case r.NewInstanceID == "":
		return domain.Invalid("new_instance_id", "is required")
	case !r.FromMode.Valid():
		return domain.Invalid("from_mode", "must be spot or ondemand")
	case !r.ToMode.Valid():
		return domain.Invalid("to_mode", "must be spot or ondemand")
	case r.ToMode == domain.ModeSpot && r.ToPoolID == "":
		return domain.Invalid("to_pool_id", "is required when switching to spot")
	case r.SwitchedAt.IsZero():
		return domain.Invalid("switched_at", "is required")
	}
	if r.Trigger != "model" && r.Trigger != "manual" {
		return domain.Invalid("trigger", "must be model or manual")
	}
	return nil
}

// RecordSwitch applies one report: insert the event, retire the origin
// instance, upsert the destination, and credit the client's savings.
// Replays converge on the first application and return the same
// destination state. The returned instance reflects the fleet after
// the switch.
func (l *Ledger) RecordSwitch(ctx context.Context, clientID int64, r Report) (domain.Instance, error) {
	if err := r.validate(); err != nil {
		return domain.Instance{}, err
	}

	impact := savingsImpact(r)
	contribution := 0.0
	if impact > 0 {
		// Hourly impact projected over a day; losses are tracked on the
		// event row but never debited from the running total.
		contribution = impact * 24
	}

	inserted, err := l.store.ApplySwitch(ctx, store.SwitchApplication{
		Event: domain.SwitchEvent{
			ClientID:      clientID,
			AgentID:       r.AgentID,
			Trigger:       r.Trigger,
			OldInstanceID: r.OldInstanceID,
			NewInstanceID: r.NewInstanceID,
			FromMode:      r.FromMode,
			ToMode:        r.ToMode,
			FromPoolID:    r.FromPoolID,
			ToPoolID:      r.ToPoolID,
			OnDemandPrice: r.OnDemandPrice,
			OldSpotPrice:  r.OldSpotPrice,
			NewSpotPrice:  r.NewSpotPrice,
			SavingsImpact: impact,
			SwitchedAt:    r.SwitchedAt.UTC(),
		},
		InstanceType:        r.InstanceType,
		Region:              r.Region,
		Zone:                r.Zone,
		SavingsContribution: contribution,
	})
	if err != nil {
		return domain.Instance{}, fmt.Errorf("apply switch for agent %s: %w", r.AgentID, err)
	}

	if inserted {
		metrics.SwitchEventsTotal.WithLabelValues(r.Trigger).Inc()
		if contribution > 0 {
			metrics.SavingsUSDTotal.Add(contribution)
		}
		l.logger.Info("switch recorded",
			"agent_id", r.AgentID,
			"old_instance", r.OldInstanceID,
			"new_instance", r.NewInstanceID,
			"to_mode", string(r.ToMode),
			"to_pool", r.ToPoolID,
			"savings_impact", impact)
	} else {
		l.logger.Debug("duplicate switch report ignored",
			"agent_id", r.AgentID,
			"new_instance", r.NewInstanceID,
			"switched_at", r.SwitchedAt)
	}

	inst, err := l.store.GetInstance(ctx, r.NewInstanceID, clientID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("load instance %s after switch: %w", r.NewInstanceID, err)
	}
	return inst, nil
}

// savingsImpact is the hourly delta of the old spot rate against the
// new billing rate. Positive means the switch saves money.
func savingsImpact(r Report) float64 {
	newRate := r.OnDemandPrice
	if r.ToMode == domain.ModeSpot {
		newRate = r.NewSpotPrice
	}
	return r.OldSpotPrice - newRate
}
