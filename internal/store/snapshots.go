package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// querier is the read surface shared by *sql.DB and *sql.Tx, so
// lookups can run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertSpotPool records a spot pool's identity. Existing rows are
// left untouched.
func (s *Store) UpsertSpotPool(ctx context.Context, poolID, instanceType, region, zone string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO spot_pools (id, instance_type, region, az)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		poolID, instanceType, region, zone,
	); err != nil {
		return fmt.Errorf("upsert spot pool %s: %w", poolID, err)
	}
	return nil
}

// InsertSpotPriceSnapshot appends one observed spot price.
func (s *Store) InsertSpotPriceSnapshot(ctx context.Context, poolID string, price float64, capturedAt time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO spot_price_snapshots (pool_id, price, captured_at) VALUES (?, ?, ?)`,
		poolID, price, capturedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert spot snapshot for pool %s: %w", poolID, err)
	}
	return nil
}

// InsertOnDemandSnapshot appends one observed on-demand price.
func (s *Store) InsertOnDemandSnapshot(ctx context.Context, region, instanceType string, price float64, capturedAt time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO ondemand_price_snapshots (region, instance_type, price, captured_at) VALUES (?, ?, ?, ?)`,
		region, instanceType, price, capturedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert on-demand snapshot for %s/%s: %w", region, instanceType, err)
	}
	return nil
}

// LatestOnDemandPrice returns the most recent on-demand price for a
// region/instance type, or ErrNotFound when no snapshot covers it.
func (s *Store) LatestOnDemandPrice(ctx context.Context, region, instanceType string) (float64, error) {
	return latestOnDemandPrice(ctx, s.db, region, instanceType)
}

func latestOnDemandPrice(ctx context.Context, q querier, region, instanceType string) (float64, error) {
	var price float64
	err := q.QueryRowContext(ctx, `
		SELECT price FROM ondemand_price_snapshots
		WHERE region = ? AND instance_type = ?
		ORDER BY captured_at DESC LIMIT 1`,
		region, instanceType,
	).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("latest on-demand price for %s/%s: %w", region, instanceType, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("latest on-demand price for %s/%s: %w", region, instanceType, err)
	}
	return price, nil
}

// PruneSnapshots deletes spot and on-demand price snapshots older than
// the cutoff, returning the total rows removed.
func (s *Store) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"spot_price_snapshots", "ondemand_price_snapshots"} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE captured_at < ?`, table), before.UTC())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}
