package store

import (
	"context"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// SaveDecision appends one decision audit row. Only substantive
// evaluations are saved; guard short-circuits never reach this call.
func (s *Store) SaveDecision(ctx context.Context, d domain.Decision) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			client_id, instance_id, agent_id, risk_score, risk_state,
			recommended_action, recommended_mode, recommended_pool_id,
			expected_savings_per_hour, allowed, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ClientID, d.InstanceID, d.AgentID, d.RiskScore, d.RiskState,
		string(d.Action), string(d.RecommendedMode), nullString(d.RecommendedPoolID),
		d.ExpectedSavingsHr, boolInt(d.Allowed), d.Reason, d.EvaluatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("save decision for instance %s: %w", d.InstanceID, err)
	}
	return nil
}

// PruneDecisions deletes audit rows older than the cutoff and returns
// the number removed.
func (s *Store) PruneDecisions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	return n, nil
}
