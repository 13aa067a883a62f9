package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// GetInstance returns an instance owned by the given client.
func (s *Store) GetInstance(ctx context.Context, instanceID string, clientID int64) (domain.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, COALESCE(agent_id, ''), COALESCE(instance_type, ''),
		       COALESCE(region, ''), COALESCE(az, ''), current_mode,
		       COALESCE(current_pool_id, ''), spot_price, ondemand_price,
		       COALESCE(baseline_ondemand_price, 0), is_active, last_switch_at
		FROM instances WHERE id = ? AND client_id = ?`,
		instanceID, clientID,
	)
	return scanInstance(row)
}

func scanInstance(row *sql.Row) (domain.Instance, error) {
	var (
		inst       domain.Instance
		mode       string
		active     int
		lastSwitch sql.NullTime
	)
	err := row.Scan(&inst.ID, &inst.ClientID, &inst.AgentID, &inst.InstanceType,
		&inst.Region, &inst.Zone, &mode, &inst.CurrentPoolID,
		&inst.SpotPrice, &inst.OnDemandPrice, &inst.BaselineOnDemandPrice,
		&active, &lastSwitch)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Instance{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Instance{}, fmt.Errorf("scan instance: %w", err)
	}
	inst.CurrentMode = domain.CapacityMode(mode)
	inst.IsActive = active == 1
	if lastSwitch.Valid {
		t := lastSwitch.Time
		inst.LastSwitchAt = &t
	}
	return inst, nil
}

// RegisterInstance creates the instance row on first observation,
// setting baseline_ondemand_price from the latest on-demand snapshot.
// The baseline is written at most once: an existing row only gains a
// baseline if it never had one, and an existing baseline is never
// overwritten.
func (s *Store) RegisterInstance(ctx context.Context, inst domain.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register instance %s: begin tx: %w", inst.ID, err)
	}
	defer tx.Rollback()

	baseline, err := latestOnDemandPrice(ctx, tx, inst.Region, inst.InstanceType)
	if errors.Is(err, domain.ErrNotFound) {
		baseline = inst.OnDemandPrice
	} else if err != nil {
		return fmt.Errorf("register instance %s: baseline lookup: %w", inst.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instances (id, client_id, agent_id, instance_type, region, az,
		                       current_mode, current_pool_id, spot_price, ondemand_price,
		                       is_active, installed_at, baseline_ondemand_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			current_mode = excluded.current_mode,
			current_pool_id = excluded.current_pool_id,
			spot_price = excluded.spot_price,
			ondemand_price = excluded.ondemand_price,
			is_active = 1,
			baseline_ondemand_price = COALESCE(instances.baseline_ondemand_price, excluded.baseline_ondemand_price)`,
		inst.ID, inst.ClientID, inst.AgentID, inst.InstanceType, inst.Region, inst.Zone,
		string(inst.CurrentMode), nullString(inst.CurrentPoolID), inst.SpotPrice, inst.OnDemandPrice,
		time.Now().UTC(), nullFloat(baseline),
	); err != nil {
		return fmt.Errorf("register instance %s: upsert: %w", inst.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register instance %s: commit: %w", inst.ID, err)
	}
	return nil
}

// SetInstanceOnDemandPrice records the instance's current on-demand
// price from a pricing report. The immutable baseline is untouched.
func (s *Store) SetInstanceOnDemandPrice(ctx context.Context, instanceID string, clientID int64, price float64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE instances SET ondemand_price = ? WHERE id = ? AND client_id = ?`,
		price, instanceID, clientID,
	); err != nil {
		return fmt.Errorf("update on-demand price for instance %s: %w", instanceID, err)
	}
	return nil
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
