package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// CountAgentSwitches counts switch events for an agent since a time.
// Used by the policy guard's weekly rate gate.
func (s *Store) CountAgentSwitches(ctx context.Context, agentID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM switch_events WHERE agent_id = ? AND switched_at >= ?`,
		agentID, since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count switches for agent %s: %w", agentID, err)
	}
	return count, nil
}

// LastInstanceSwitch returns the time of the most recent switch event
// touching the instance as source or destination, or nil if none.
// Used by the policy guard's dwell gate.
func (s *Store) LastInstanceSwitch(ctx context.Context, instanceID string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT switched_at FROM switch_events
		WHERE old_instance_id = ? OR new_instance_id = ?
		ORDER BY switched_at DESC LIMIT 1`,
		instanceID, instanceID,
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last switch for instance %s: %w", instanceID, err)
	}
	return &t, nil
}

// SwitchApplication is the full atomic effect of one realized switch:
// the ledger row, the origin deactivation, the destination upsert, and
// the (positive-only) client savings contribution.
type SwitchApplication struct {
	Event domain.SwitchEvent

	// Destination instance fields for the upsert.
	InstanceType string
	Region       string
	Zone         string

	// SavingsContribution is added to the client total only when the
	// event row is newly inserted (duplicate replays contribute once).
	SavingsContribution float64
}

// ApplySwitch applies a reported switch in one transaction. The event
// insert is keyed on (agent_id, new_instance_id, switched_at); a
// replay of the same report inserts nothing and skips the savings
// contribution, while the instance upserts re-apply the same end
// state. Returns whether the event row was newly inserted.
func (s *Store) ApplySwitch(ctx context.Context, app SwitchApplication) (bool, error) {
	ev := app.Event

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("apply switch for %s: begin tx: %w", ev.NewInstanceID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO switch_events (
			client_id, agent_id, trigger_source, old_instance_id, new_instance_id,
			from_mode, to_mode, from_pool_id, to_pool_id,
			on_demand_price, old_spot_price, new_spot_price, savings_impact, switched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ClientID, ev.AgentID, ev.Trigger, ev.OldInstanceID, ev.NewInstanceID,
		string(ev.FromMode), string(ev.ToMode), nullString(ev.FromPoolID), nullString(ev.ToPoolID),
		ev.OnDemandPrice, ev.OldSpotPrice, ev.NewSpotPrice, ev.SavingsImpact,
		ev.SwitchedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("apply switch for %s: insert event: %w", ev.NewInstanceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply switch for %s: %w", ev.NewInstanceID, err)
	}
	inserted := n > 0

	// Soft-deactivate the origin; replays converge to the same state.
	if ev.OldInstanceID != ev.NewInstanceID {
		if _, err := tx.ExecContext(ctx, `
			UPDATE instances SET is_active = 0, terminated_at = COALESCE(terminated_at, ?)
			WHERE id = ? AND client_id = ?`,
			ev.SwitchedAt.UTC(), ev.OldInstanceID, ev.ClientID,
		); err != nil {
			return false, fmt.Errorf("apply switch for %s: deactivate origin: %w", ev.NewInstanceID, err)
		}
	}

	// Upsert the destination keyed on instance id.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instances (id, client_id, agent_id, instance_type, region, az,
		                       current_mode, current_pool_id, spot_price, ondemand_price,
		                       is_active, installed_at, last_switch_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_mode    = excluded.current_mode,
			current_pool_id = excluded.current_pool_id,
			spot_price      = excluded.spot_price,
			ondemand_price  = excluded.ondemand_price,
			is_active       = 1,
			terminated_at   = NULL,
			last_switch_at  = excluded.last_switch_at`,
		ev.NewInstanceID, ev.ClientID, ev.AgentID, app.InstanceType, app.Region, app.Zone,
		string(ev.ToMode), nullString(ev.ToPoolID), ev.NewSpotPrice, ev.OnDemandPrice,
		ev.SwitchedAt.UTC(), ev.SwitchedAt.UTC(),
	); err != nil {
		return false, fmt.Errorf("apply switch for %s: upsert destination: %w", ev.NewInstanceID, err)
	}

	if inserted && app.SavingsContribution > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE clients SET total_savings = total_savings + ? WHERE id = ?`,
			app.SavingsContribution, ev.ClientID,
		); err != nil {
			return false, fmt.Errorf("apply switch for %s: add savings: %w", ev.NewInstanceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("apply switch for %s: commit: %w", ev.NewInstanceID, err)
	}
	return inserted, nil
}

// MonthlySavings sums positive switch savings contributions for one
// client over a calendar month (UTC). Negative-impact switches are
// excluded: the aggregate reports realized discount capture.
func (s *Store) MonthlySavings(ctx context.Context, clientID int64, year int, month time.Month) (float64, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(savings_impact * 24) FROM switch_events
		WHERE client_id = ? AND savings_impact > 0 AND switched_at >= ? AND switched_at < ?`,
		clientID, start, end,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("monthly savings for client %d: %w", clientID, err)
	}
	return total.Float64, nil
}

// UpsertMonthlySavings records one client's aggregation for a period.
// Keyed on (client, year, month): reruns overwrite, never double count.
func (s *Store) UpsertMonthlySavings(ctx context.Context, clientID int64, year int, month time.Month, savings float64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO client_savings_monthly (client_id, year, month, savings, computed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id, year, month) DO UPDATE SET
			savings = excluded.savings,
			computed_at = excluded.computed_at`,
		clientID, year, int(month), savings, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("upsert monthly savings for client %d: %w", clientID, err)
	}
	return nil
}
