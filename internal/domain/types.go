// Package domain holds the entities shared across the optimizer core:
// instances, agent policies, decisions, switch events, and pending
// override commands.
package domain

import "time"

// CapacityMode identifies how an instance is currently billed.
type CapacityMode string

const (
	ModeSpot     CapacityMode = "spot"
	ModeOnDemand CapacityMode = "ondemand"
)

// Valid reports whether the mode is one of the two known values.
func (m CapacityMode) Valid() bool {
	return m == ModeSpot || m == ModeOnDemand
}

// Action is the recommendation produced by the decision engine.
type Action string

const (
	ActionStay             Action = "stay"
	ActionSwitchPool       Action = "switch_pool"
	ActionFallbackOnDemand Action = "fallback_ondemand"
)

// PoolPrice is one spot pool offer inside a pricing snapshot.
type PoolPrice struct {
	PoolID string  `json:"pool_id"`
	Price  float64 `json:"price"`
	Zone   string  `json:"az"`
}

// PricingSnapshot is the ephemeral market view supplied with each
// decision request: the instance's on-demand price plus every spot
// pool currently offered for its instance type.
type PricingSnapshot struct {
	InstanceID    string      `json:"instance_id"`
	OnDemandPrice float64     `json:"on_demand_price"`
	SpotPools     []PoolPrice `json:"spot_pools"`
}

// AgentPolicy is the per-agent switching policy. Exactly one row
// exists per agent; operators mutate it, the engine only reads it.
type AgentPolicy struct {
	AgentID              string  `json:"agent_id"`
	Enabled              bool    `json:"enabled"`
	AutoSwitchEnabled    bool    `json:"auto_switch_enabled"`
	MinSavingsPercent    float64 `json:"min_savings_percent"`
	RiskThreshold        float64 `json:"risk_threshold"`
	MaxSwitchesPerWeek   int     `json:"max_switches_per_week"`
	MinPoolDurationHours float64 `json:"min_pool_duration_hours"`
}

// Instance is a managed compute instance. BaselineOnDemandPrice is set
// once at first observation and never changes afterwards.
type Instance struct {
	ID                    string       `json:"id"`
	ClientID              int64        `json:"client_id"`
	AgentID               string       `json:"agent_id"`
	InstanceType          string       `json:"instance_type"`
	Region                string       `json:"region"`
	Zone                  string       `json:"az"`
	CurrentMode           CapacityMode `json:"current_mode"`
	CurrentPoolID         string       `json:"current_pool_id"`
	SpotPrice             float64      `json:"spot_price"`
	OnDemandPrice         float64      `json:"ondemand_price"`
	BaselineOnDemandPrice float64      `json:"baseline_ondemand_price"`
	IsActive              bool         `json:"is_active"`
	LastSwitchAt          *time.Time   `json:"last_switch_at,omitempty"`
}

// Decision is the immutable, audited outcome of one engine evaluation.
// Allowed is orthogonal to Action: a computed switch that the policy
// does not permit to auto-execute stays informational.
type Decision struct {
	InstanceID        string       `json:"instance_id"`
	AgentID           string       `json:"agent_id"`
	ClientID          int64        `json:"client_id"`
	RiskScore         float64      `json:"risk_score"`
	RiskState         string       `json:"risk_state"`
	Action            Action       `json:"recommended_action"`
	RecommendedMode   CapacityMode `json:"recommended_mode"`
	RecommendedPoolID string       `json:"recommended_pool_id"`
	ExpectedSavingsHr float64      `json:"expected_savings_per_hour"`
	Allowed           bool         `json:"allowed"`
	Reason            string       `json:"reason"`
	EvaluatedAt       time.Time    `json:"evaluated_at"`
}

// PendingCommand is an operator-issued override directive queued for a
// polling agent. ExecutedAt transitions nil -> set exactly once and is
// never cleared.
type PendingCommand struct {
	ID           string       `json:"id"`
	AgentID      string       `json:"agent_id"`
	InstanceID   string       `json:"instance_id"`
	TargetMode   CapacityMode `json:"target_mode"`
	TargetPoolID string       `json:"target_pool_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ExecutedAt   *time.Time   `json:"executed_at,omitempty"`
}

// SwitchEvent is one realized switch as reported by an agent.
// Append-only; the (AgentID, NewInstanceID, SwitchedAt) tuple is the
// natural key that makes replayed reports converge.
type SwitchEvent struct {
	ClientID      int64        `json:"client_id"`
	AgentID       string       `json:"agent_id"`
	Trigger       string       `json:"trigger"` // "model" or "manual"
	OldInstanceID string       `json:"old_instance_id"`
	NewInstanceID string       `json:"new_instance_id"`
	FromMode      CapacityMode `json:"from_mode"`
	ToMode        CapacityMode `json:"to_mode"`
	FromPoolID    string       `json:"from_pool_id"`
	ToPoolID      string       `json:"to_pool_id"`
	OnDemandPrice float64      `json:"on_demand_price"`
	OldSpotPrice  float64      `json:"old_spot_price"`
	NewSpotPrice  float64      `json:"new_spot_price"`
	SavingsImpact float64      `json:"savings_impact"`
	SwitchedAt    time.Time    `json:"switched_at"`
}
