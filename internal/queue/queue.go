// Package queue manages operator-issued override commands: durable,
// per-agent, delivered to polling agents at least once.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/softcane/spot-optimizer/internal/domain"
	"github.com/softcane/spot-optimizer/internal/metrics"
)

// CommandStore is the persistence slice the queue operates on.
type CommandStore interface {
	InsertCommand(ctx context.Context, cmd domain.PendingCommand) error
	ListPendingCommands(ctx context.Context, agentID string) ([]domain.PendingCommand, error)
	MarkCommandExecuted(ctx context.Context, commandID, agentID string, now time.Time) (bool, error)
	CountPendingCommands(ctx context.Context) (int, error)
	InstanceAgent(ctx context.Context, instanceID string) (agentID string, clientID int64, err error)
}

// Queue issues, lists, and retires override commands.
type Queue struct {
	store  CommandStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a queue over the given store.
func New(store CommandStore, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, logger: logger, now: time.Now}
}

// OverrideRequest is an operator's forced-switch directive.
type OverrideRequest struct {
	InstanceID   string              `json:"instance_id"`
	TargetMode   domain.CapacityMode `json:"target_mode"`
	TargetPoolID string              `json:"target_pool_id,omitempty"`
}

// EnqueueOverride validates the request, resolves the owning agent,
// and durably queues a command for it. The caller's client scope must
// match the instance's owner.
func (q *Queue) EnqueueOverride(ctx context.Context, clientID int64, req OverrideRequest) (domain.PendingCommand, error) {
	if req.InstanceID == "" {
		return domain.PendingCommand{}, domain.Invalid("instance_id", "is required")
	}
	if !req.TargetMode.Valid() {
		return domain.PendingCommand{}, domain.Invalid("target_mode", "must be spot or ondemand")
	}
	if req.TargetMode == domain.ModeSpot && req.TargetPoolID == "" {
		return domain.PendingCommand{}, domain.Invalid("target_pool_id", "is required when switching to spot")
	}

	agentID, ownerID, err := q.store.InstanceAgent(ctx, req.InstanceID)
	if err != nil {
		return domain.PendingCommand{}, fmt.Errorf("resolve agent for instance %s: %w", req.InstanceID, err)
	}
	if ownerID != clientID {
		return domain.PendingCommand{}, domain.ErrNotFound
	}

	cmd := domain.PendingCommand{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		InstanceID:   req.InstanceID,
		TargetMode:   req.TargetMode,
		TargetPoolID: req.TargetPoolID,
		CreatedAt:    q.now().UTC(),
	}
	if err := q.store.InsertCommand(ctx, cmd); err != nil {
		return domain.PendingCommand{}, fmt.Errorf("enqueue command for agent %s: %w", agentID, err)
	}

	metrics.CommandsEnqueuedTotal.Inc()
	q.refreshDepth(ctx)
	q.logger.Info("override command enqueued",
		"command_id", cmd.ID,
		"agent_id", agentID,
		"instance_id", req.InstanceID,
		"target_mode", string(req.TargetMode),
		"target_pool", req.TargetPoolID)
	return cmd, nil
}

// ListPending returns the agent's unexecuted commands, oldest first.
// Commands stay listed until acknowledged, so an agent that crashes
// mid-execution sees them again on its next poll.
func (q *Queue) ListPending(ctx context.Context, agentID string) ([]domain.PendingCommand, error) {
	cmds, err := q.store.ListPendingCommands(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list pending commands for agent %s: %w", agentID, err)
	}
	return cmds, nil
}

// Acknowledge marks a command executed. Repeated acknowledgements and
// unknown command IDs are no-ops; the first acknowledgement wins and
// its timestamp is never overwritten.
func (q *Queue) Acknowledge(ctx context.Context, commandID, agentID string) error {
	if commandID == "" {
		return domain.Invalid("command_id", "is required")
	}
	first, err := q.store.MarkCommandExecuted(ctx, commandID, agentID, q.now().UTC())
	if err != nil {
		return fmt.Errorf("acknowledge command %s: %w", commandID, err)
	}
	if first {
		metrics.CommandsAcknowledgedTotal.Inc()
		q.refreshDepth(ctx)
		q.logger.Info("override command acknowledged", "command_id", commandID, "agent_id", agentID)
	}
	return nil
}

// refreshDepth updates the queue depth gauge. Best effort.
func (q *Queue) refreshDepth(ctx context.Context) {
	n, err := q.store.CountPendingCommands(ctx)
	if err != nil {
		q.logger.Warn("count pending commands", "error", err)
		return
	}
	metrics.PendingCommands.Set(float64(n))
}
