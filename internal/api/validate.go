package api

import (
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// registerRequest enrolls an agent and its instances.
type registerRequest struct {
	AgentID   string            `json:"agent_id"`
	Hostname  string            `json:"hostname"`
	Version   string            `json:"version"`
	Instances []instancePayload `json:"instances"`
}

type instancePayload struct {
	ID            string              `json:"id"`
	InstanceType  string              `json:"instance_type"`
	Region        string              `json:"region"`
	Zone          string              `json:"az"`
	CurrentMode   domain.CapacityMode `json:"current_mode"`
	CurrentPoolID string              `json:"current_pool_id,omitempty"`
	SpotPrice     float64             `json:"spot_price"`
	OnDemandPrice float64             `json:"ondemand_price"`
}

func (r registerRequest) validate() error {
	if r.AgentID == "" {
		return domain.Invalid("agent_id", "is required")
	}
	for _, inst := range r.Instances {
		if inst.ID == "" {
			return domain.Invalid("instances.id", "is required")
		}
		if !inst.CurrentMode.Valid() {
			return domain.Invalid("instances.current_mode", "must be spot or ondemand")
		}
		if inst.CurrentMode == domain.ModeSpot && inst.CurrentPoolID == "" {
			return domain.Invalid("instances.current_pool_id", "is required for spot instances")
		}
	}
	return nil
}

type heartbeatRequest struct {
	Status        string `json:"status"`
	InstanceCount int    `json:"instance_count"`
}

func (r *heartbeatRequest) validate() error {
	if r.Status == "" {
		r.Status = "healthy"
	}
	if r.InstanceCount < 0 {
		return domain.Invalid("instance_count", "must not be negative")
	}
	return nil
}

// decideRequest is the market view for one evaluation.
type decideRequest struct {
	InstanceID    string             `json:"instance_id"`
	OnDemandPrice float64            `json:"on_demand_price"`
	SpotPools     []domain.PoolPrice `json:"spot_pools"`
}

func (r decideRequest) validate() error {
	if r.InstanceID == "" {
		return domain.Invalid("instance_id", "is required")
	}
	for _, p := range r.SpotPools {
		if p.PoolID == "" {
			return domain.Invalid("spot_pools.pool_id", "is required")
		}
		if p.Price <= 0 {
			return domain.Invalid("spot_pools.price", "must be positive")
		}
	}
	return nil
}

type pricingReportRequest struct {
	SpotPools []spotPoolObservation `json:"spot_pools"`
	OnDemand  []onDemandObservation `json:"ondemand,omitempty"`
}

type spotPoolObservation struct {
	PoolID       string     `json:"pool_id"`
	InstanceType string     `json:"instance_type"`
	Region       string     `json:"region"`
	Zone         string     `json:"az"`
	Price        float64    `json:"price"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`
}

type onDemandObservation struct {
	Region       string     `json:"region"`
	InstanceType string     `json:"instance_type"`
	Price        float64    `json:"price"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`
}

func (r pricingReportRequest) validate() error {
	if len(r.SpotPools) == 0 && len(r.OnDemand) == 0 {
		return domain.Invalid("spot_pools", "report contains no observations")
	}
	for _, o := range r.SpotPools {
		if o.PoolID == "" {
			return domain.Invalid("spot_pools.pool_id", "is required")
		}
		if o.Price <= 0 {
			return domain.Invalid("spot_pools.price", "must be positive")
		}
	}
	for _, o := range r.OnDemand {
		if o.Region == "" || o.InstanceType == "" {
			return domain.Invalid("ondemand", "region and instance_type are required")
		}
		if o.Price <= 0 {
			return domain.Invalid("ondemand.price", "must be positive")
		}
	}
	return nil
}

// policyRequest replaces an agent's switching policy wholesale.
type policyRequest struct {
	Enabled              bool    `json:"enabled"`
	AutoSwitchEnabled    bool    `json:"auto_switch_enabled"`
	MinSavingsPercent    float64 `json:"min_savings_percent"`
	RiskThreshold        float64 `json:"risk_threshold"`
	MaxSwitchesPerWeek   int     `json:"max_switches_per_week"`
	MinPoolDurationHours float64 `json:"min_pool_duration_hours"`
}

func (r policyRequest) validate() error {
	switch {
	case r.MinSavingsPercent < 0 || r.MinSavingsPercent > 100:
		return domain.Invalid("min_savings_percent", "must be between 0 and 100")
	case r.RiskThreshold < 0 || r.RiskThreshold > 1:
		return domain.Invalid("risk_threshold", "must be between 0 and 1")
	case r.MaxSwitchesPerWeek < 0:
		return domain.Invalid("max_switches_per_week", "must not be negative")
	case r.MinPoolDurationHours < 0:
		return domain.Invalid("min_pool_duration_hours", "must not be negative")
	}
	return nil
}

type forceSwitchRequest struct {
	TargetMode   domain.CapacityMode `json:"target_mode"`
	TargetPoolID string              `json:"target_pool_id,omitempty"`
}

type ackRequest struct {
	AgentID string `json:"agent_id"`
}

func (r ackRequest) validate() error {
	if r.AgentID == "" {
		return domain.Invalid("agent_id", "is required")
	}
	return nil
}
