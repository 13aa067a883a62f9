package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// InsertCommand appends a pending override to the agent's queue.
func (s *Store) InsertCommand(ctx context.Context, cmd domain.PendingCommand) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_commands (id, agent_id, instance_id, target_mode, target_pool_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.AgentID, cmd.InstanceID, string(cmd.TargetMode),
		nullString(cmd.TargetPoolID), cmd.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("enqueue command %s: %w", cmd.ID, err)
	}
	return nil
}

// ListPendingCommands returns the agent's unexecuted commands, oldest
// first.
func (s *Store) ListPendingCommands(ctx context.Context, agentID string) ([]domain.PendingCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, instance_id, target_mode, COALESCE(target_pool_id, ''), created_at
		FROM pending_commands
		WHERE agent_id = ? AND executed_at IS NULL
		ORDER BY created_at ASC, id ASC`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending commands for agent %s: %w", agentID, err)
	}
	defer rows.Close()

	var cmds []domain.PendingCommand
	for rows.Next() {
		var (
			cmd  domain.PendingCommand
			mode string
		)
		if err := rows.Scan(&cmd.ID, &cmd.AgentID, &cmd.InstanceID, &mode, &cmd.TargetPoolID, &cmd.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending command: %w", err)
		}
		cmd.TargetMode = domain.CapacityMode(mode)
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// MarkCommandExecuted sets executed_at on a command if and only if it
// is still unexecuted. The WHERE clause makes the operation naturally
// idempotent: a replayed acknowledgment matches zero rows and the
// original execution time is preserved. Returns whether this call
// performed the transition.
func (s *Store) MarkCommandExecuted(ctx context.Context, commandID, agentID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_commands SET executed_at = ?
		WHERE id = ? AND agent_id = ? AND executed_at IS NULL`,
		now.UTC(), commandID, agentID,
	)
	if err != nil {
		return false, fmt.Errorf("acknowledge command %s: %w", commandID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acknowledge command %s: %w", commandID, err)
	}
	return n > 0, nil
}

// CountPendingCommands returns the number of unexecuted commands
// across all agents, for the queue depth gauge.
func (s *Store) CountPendingCommands(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_commands WHERE executed_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending commands: %w", err)
	}
	return count, nil
}

// InstanceAgent returns the agent responsible for an instance, for
// routing a manual override. ErrNotFound when the instance is unknown
// or has no agent.
func (s *Store) InstanceAgent(ctx context.Context, instanceID string) (agentID string, clientID int64, err error) {
	var agent sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT agent_id, client_id FROM instances WHERE id = ?`, instanceID,
	).Scan(&agent, &clientID)
	if err == sql.ErrNoRows || (err == nil && !agent.Valid) {
		return "", 0, domain.ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("resolve agent for instance %s: %w", instanceID, err)
	}
	return agent.String, clientID, nil
}
