// Package metrics provides Prometheus metrics for the optimizer server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts engine evaluations by recommended action.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "decisions_total",
			Help:      "Engine evaluations grouped by recommended action",
		},
		[]string{"action"},
	)

	// PolicyBlockedTotal counts evaluations rejected by a policy gate.
	PolicyBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "policy_blocked_total",
			Help:      "Evaluations blocked by a policy gate",
		},
		[]string{"gate"},
	)

	// RiskScore tracks the latest pricing risk score per pool.
	RiskScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "spotopt",
			Name:      "risk_score",
			Help:      "Latest pricing risk score per pool (0=safe, 1=event)",
		},
		[]string{"pool"},
	)

	// SwitchEventsTotal counts realized switches recorded in the ledger.
	SwitchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "switch_events_total",
			Help:      "Realized switches recorded, grouped by trigger",
		},
		[]string{"trigger"},
	)

	// SavingsUSDTotal accumulates realized hourly savings impact from
	// recorded switches.
	SavingsUSDTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "savings_usd_total",
			Help:      "Cumulative positive savings contribution in USD",
		},
	)

	// CommandsEnqueuedTotal counts manual override commands enqueued.
	CommandsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "commands_enqueued_total",
			Help:      "Manual override commands enqueued",
		},
	)

	// CommandsAcknowledgedTotal counts first-time command acknowledgements.
	CommandsAcknowledgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "commands_acknowledged_total",
			Help:      "Override commands acknowledged by agents",
		},
	)

	// PendingCommands tracks unexecuted commands across all agents.
	PendingCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spotopt",
			Name:      "pending_commands",
			Help:      "Unexecuted override commands across all agents",
		},
	)

	// MaintenanceRunsTotal counts maintenance job outcomes.
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "maintenance_runs_total",
			Help:      "Maintenance job runs grouped by job and result",
		},
		[]string{"job", "result"},
	)

	// BaselinePools tracks the pool count of the active baseline table.
	BaselinePools = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spotopt",
			Name:      "baseline_pools",
			Help:      "Pools covered by the active baseline statistics table",
		},
	)

	// SnapshotIngestTotal counts ingested price snapshots by source.
	SnapshotIngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotopt",
			Name:      "snapshot_ingest_total",
			Help:      "Price snapshots ingested, grouped by source",
		},
		[]string{"source"},
	)
)
