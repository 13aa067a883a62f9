// Package store persists the optimizer's durable state in SQLite:
// clients, agents, policies, instances, switch events, pending
// commands, decision audit rows, and price snapshots. Pure-Go driver,
// single writer. Every mutating operation is either a single statement
// or a transaction, so a failed call commits nothing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT    NOT NULL,
    client_token  TEXT    NOT NULL UNIQUE,
    status        TEXT    NOT NULL DEFAULT 'active',
    total_savings REAL    NOT NULL DEFAULT 0,
    last_sync_at  DATETIME,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS agents (
    id             TEXT PRIMARY KEY,
    client_id      INTEGER NOT NULL,
    status         TEXT    NOT NULL DEFAULT 'online',
    hostname       TEXT,
    agent_version  TEXT,
    instance_count INTEGER NOT NULL DEFAULT 0,
    last_heartbeat DATETIME
);

-- Exactly one policy row per agent.
CREATE TABLE IF NOT EXISTS agent_policies (
    agent_id                TEXT PRIMARY KEY,
    enabled                 INTEGER NOT NULL DEFAULT 1,
    auto_switch_enabled     INTEGER NOT NULL DEFAULT 0,
    min_savings_percent     REAL    NOT NULL DEFAULT 20.0,
    risk_threshold          REAL    NOT NULL DEFAULT 0.7,
    max_switches_per_week   INTEGER NOT NULL DEFAULT 5,
    min_pool_duration_hours REAL    NOT NULL DEFAULT 24.0
);

CREATE TABLE IF NOT EXISTS instances (
    id                      TEXT PRIMARY KEY,
    client_id               INTEGER NOT NULL,
    agent_id                TEXT,
    instance_type           TEXT,
    region                  TEXT,
    az                      TEXT,
    current_mode            TEXT NOT NULL DEFAULT 'spot',
    current_pool_id         TEXT,
    spot_price              REAL NOT NULL DEFAULT 0,
    ondemand_price          REAL NOT NULL DEFAULT 0,
    baseline_ondemand_price REAL,
    is_active               INTEGER NOT NULL DEFAULT 1,
    installed_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_switch_at          DATETIME,
    terminated_at           DATETIME
);

-- Append-only ledger. The unique key makes replayed reports converge.
CREATE TABLE IF NOT EXISTS switch_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id       INTEGER NOT NULL,
    agent_id        TEXT    NOT NULL,
    trigger_source  TEXT    NOT NULL,
    old_instance_id TEXT    NOT NULL,
    new_instance_id TEXT    NOT NULL,
    from_mode       TEXT    NOT NULL,
    to_mode         TEXT    NOT NULL,
    from_pool_id    TEXT,
    to_pool_id      TEXT,
    on_demand_price REAL NOT NULL DEFAULT 0,
    old_spot_price  REAL NOT NULL DEFAULT 0,
    new_spot_price  REAL NOT NULL DEFAULT 0,
    savings_impact  REAL NOT NULL DEFAULT 0,
    switched_at     DATETIME NOT NULL,
    UNIQUE (agent_id, new_instance_id, switched_at)
);

CREATE TABLE IF NOT EXISTS pending_commands (
    id             TEXT PRIMARY KEY,
    agent_id       TEXT NOT NULL,
    instance_id    TEXT NOT NULL,
    target_mode    TEXT NOT NULL,
    target_pool_id TEXT,
    created_at     DATETIME NOT NULL,
    executed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS decisions (
    id                        INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id                 INTEGER NOT NULL,
    instance_id               TEXT NOT NULL,
    agent_id                  TEXT NOT NULL,
    risk_score                REAL NOT NULL,
    risk_state                TEXT NOT NULL,
    recommended_action        TEXT NOT NULL,
    recommended_mode          TEXT NOT NULL,
    recommended_pool_id       TEXT,
    expected_savings_per_hour REAL NOT NULL DEFAULT 0,
    allowed                   INTEGER NOT NULL DEFAULT 0,
    reason                    TEXT,
    created_at                DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS spot_pools (
    id            TEXT PRIMARY KEY,
    instance_type TEXT NOT NULL,
    region        TEXT NOT NULL,
    az            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS spot_price_snapshots (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    pool_id     TEXT NOT NULL,
    price       REAL NOT NULL,
    captured_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ondemand_price_snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    region        TEXT NOT NULL,
    instance_type TEXT NOT NULL,
    price         REAL NOT NULL,
    captured_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS client_savings_monthly (
    client_id     INTEGER NOT NULL,
    year          INTEGER NOT NULL,
    month         INTEGER NOT NULL,
    baseline_cost REAL NOT NULL DEFAULT 0,
    actual_cost   REAL NOT NULL DEFAULT 0,
    savings       REAL NOT NULL DEFAULT 0,
    computed_at   DATETIME NOT NULL,
    PRIMARY KEY (client_id, year, month)
);

CREATE TABLE IF NOT EXISTS system_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type  TEXT NOT NULL,
    severity    TEXT NOT NULL,
    client_id   INTEGER,
    agent_id    TEXT,
    instance_id TEXT,
    message     TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_switch_agent_time    ON switch_events(agent_id, switched_at DESC);
CREATE INDEX IF NOT EXISTS idx_switch_old_instance  ON switch_events(old_instance_id, switched_at DESC);
CREATE INDEX IF NOT EXISTS idx_switch_new_instance  ON switch_events(new_instance_id, switched_at DESC);
CREATE INDEX IF NOT EXISTS idx_commands_pending     ON pending_commands(agent_id, created_at) WHERE executed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_decisions_instance   ON decisions(instance_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_spot_snap_pool       ON spot_price_snapshots(pool_id, captured_at DESC);
CREATE INDEX IF NOT EXISTS idx_od_snap_type         ON ondemand_price_snapshots(region, instance_type, captured_at DESC);
`

// Store is the SQLite-backed persistence provider.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// SQLite is single-writer; serialize at the pool level.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LogSystemEvent appends an operational event. Best effort: failures
// are logged, never propagated, so event logging cannot fail a request.
func (s *Store) LogSystemEvent(ctx context.Context, eventType, severity, message string, clientID int64, agentID, instanceID string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_events (event_type, severity, client_id, agent_id, instance_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventType, severity, nullInt64(clientID), nullString(agentID), nullString(instanceID), message, time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("failed to log system event", "event_type", eventType, "error", err)
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
