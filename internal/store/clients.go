package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/softcane/spot-optimizer/internal/domain"
)

// Client is a registered tenant account.
type Client struct {
	ID           int64
	Name         string
	Status       string
	TotalSavings float64
}

// ResolveClientToken looks up an active client by its token.
// Returns domain.ErrNotFound for unknown or inactive tokens.
func (s *Store) ResolveClientToken(ctx context.Context, token string) (Client, error) {
	var c Client
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, total_savings FROM clients WHERE client_token = ? AND status = 'active'`,
		token,
	).Scan(&c.ID, &c.Name, &c.Status, &c.TotalSavings)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, domain.ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("resolve client token: %w", err)
	}
	return c, nil
}

// CreateClient registers a new tenant with the given token.
func (s *Store) CreateClient(ctx context.Context, name, token string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (name, client_token, status, created_at) VALUES (?, ?, 'active', ?)`,
		name, token, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("create client %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create client %q: %w", name, err)
	}
	return id, nil
}

// TouchClientSync records the time of the client's latest agent contact.
func (s *Store) TouchClientSync(ctx context.Context, clientID int64, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE clients SET last_sync_at = ? WHERE id = ?`, now.UTC(), clientID,
	); err != nil {
		return fmt.Errorf("touch client sync: %w", err)
	}
	return nil
}

// ListActiveClientIDs returns the ids of all active clients, for
// per-client maintenance iteration.
func (s *Store) ListActiveClientIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM clients WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active clients: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan client id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
