package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// UpsertAgent registers an agent or refreshes its registration, and
// guarantees exactly one policy row exists for it. Re-registration
// never resets an operator-tuned policy.
func (s *Store) UpsertAgent(ctx context.Context, agentID string, clientID int64, hostname, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register agent %s: begin tx: %w", agentID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agents (id, client_id, status, hostname, agent_version, last_heartbeat)
		VALUES (?, ?, 'online', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id      = excluded.client_id,
			status         = 'online',
			hostname       = excluded.hostname,
			agent_version  = excluded.agent_version,
			last_heartbeat = excluded.last_heartbeat`,
		agentID, clientID, hostname, version, now,
	); err != nil {
		return fmt.Errorf("register agent %s: upsert: %w", agentID, err)
	}

	// Default policy on first sight; existing rows untouched.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agent_policies (agent_id) VALUES (?) ON CONFLICT(agent_id) DO NOTHING`,
		agentID,
	); err != nil {
		return fmt.Errorf("register agent %s: ensure policy: %w", agentID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register agent %s: commit: %w", agentID, err)
	}
	return nil
}

// Heartbeat updates the agent's liveness row. The agent must belong to
// the calling client.
func (s *Store) Heartbeat(ctx context.Context, agentID string, clientID int64, status string, instanceCount int, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, last_heartbeat = ?, instance_count = ?
		WHERE id = ? AND client_id = ?`,
		status, now.UTC(), instanceCount, agentID, clientID,
	)
	if err != nil {
		return fmt.Errorf("heartbeat for agent %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat for agent %s: %w", agentID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetPolicy returns the policy for an agent owned by the given client.
func (s *Store) GetPolicy(ctx context.Context, agentID string, clientID int64) (domain.AgentPolicy, error) {
	var (
		p               domain.AgentPolicy
		enabled, autoSw int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT p.agent_id, p.enabled, p.auto_switch_enabled, p.min_savings_percent,
		       p.risk_threshold, p.max_switches_per_week, p.min_pool_duration_hours
		FROM agent_policies p
		JOIN agents a ON a.id = p.agent_id
		WHERE p.agent_id = ? AND a.client_id = ?`,
		agentID, clientID,
	).Scan(&p.AgentID, &enabled, &autoSw, &p.MinSavingsPercent,
		&p.RiskThreshold, &p.MaxSwitchesPerWeek, &p.MinPoolDurationHours)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AgentPolicy{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AgentPolicy{}, fmt.Errorf("get policy for agent %s: %w", agentID, err)
	}
	p.Enabled = enabled == 1
	p.AutoSwitchEnabled = autoSw == 1
	return p, nil
}

// UpdatePolicy replaces the full policy row for an agent.
func (s *Store) UpdatePolicy(ctx context.Context, p domain.AgentPolicy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_policies SET
			enabled = ?, auto_switch_enabled = ?, min_savings_percent = ?,
			risk_threshold = ?, max_switches_per_week = ?, min_pool_duration_hours = ?
		WHERE agent_id = ?`,
		boolInt(p.Enabled), boolInt(p.AutoSwitchEnabled), p.MinSavingsPercent,
		p.RiskThreshold, p.MaxSwitchesPerWeek, p.MinPoolDurationHours, p.AgentID,
	)
	if err != nil {
		return fmt.Errorf("update policy for agent %s: %w", p.AgentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update policy for agent %s: %w", p.AgentID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
