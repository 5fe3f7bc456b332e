package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			name TEXT PRIMARY KEY,
			vendor TEXT NOT NULL,
			model TEXT NOT NULL,
			transport TEXT NOT NULL,
			cost_per_input_token REAL NOT NULL DEFAULT 0,
			cost_per_output_token REAL NOT NULL DEFAULT 0,
			supported_tiers TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS tools (
			label TEXT PRIMARY KEY,
			transport_url TEXT NOT NULL,
			auth_token TEXT NOT NULL DEFAULT '',
			cost_tier TEXT NOT NULL DEFAULT 'free',
			security_tier TEXT NOT NULL DEFAULT 'public',
			allowed_operations TEXT NOT NULL DEFAULT '[]',
			approval_policy TEXT NOT NULL DEFAULT 'never'
		)`,
		`CREATE TABLE IF NOT EXISTS approval_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			decider TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_audit_request ON approval_audit(request_id)`,
		`CREATE TABLE IF NOT EXISTS analyze_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			request_id TEXT NOT NULL DEFAULT '',
			task_tier TEXT NOT NULL,
			mode TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			wall_bounce_verified BOOLEAN NOT NULL DEFAULT 0,
			tier_escalated BOOLEAN NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			total_latency_ms INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyze_log_timestamp ON analyze_log(timestamp)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Providers

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, vendor, model, transport, cost_per_input_token, cost_per_output_token, supported_tiers FROM providers`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProviderRecord
	for rows.Next() {
		var p ProviderRecord
		var tiersJSON string
		if err := rows.Scan(&p.Name, &p.Vendor, &p.Model, &p.Transport, &p.CostPerInputToken, &p.CostPerOutputToken, &tiersJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tiersJSON), &p.SupportedTiers); err != nil {
			return nil, fmt.Errorf("unmarshal supported_tiers for %s: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p ProviderRecord) error {
	tiersJSON, err := json.Marshal(p.SupportedTiers)
	if err != nil {
		return fmt.Errorf("marshal supported_tiers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers (name, vendor, model, transport, cost_per_input_token, cost_per_output_token, supported_tiers)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   vendor=excluded.vendor,
		   model=excluded.model,
		   transport=excluded.transport,
		   cost_per_input_token=excluded.cost_per_input_token,
		   cost_per_output_token=excluded.cost_per_output_token,
		   supported_tiers=excluded.supported_tiers`,
		p.Name, p.Vendor, p.Model, p.Transport, p.CostPerInputToken, p.CostPerOutputToken, string(tiersJSON))
	return err
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE name = ?`, name)
	return err
}

// Tools

func (s *SQLiteStore) ListTools(ctx context.Context) ([]ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, transport_url, auth_token, cost_tier, security_tier, allowed_operations, approval_policy FROM tools`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ToolRecord
	for rows.Next() {
		var t ToolRecord
		var opsJSON string
		if err := rows.Scan(&t.Label, &t.TransportURL, &t.AuthToken, &t.CostTier, &t.SecurityTier, &opsJSON, &t.ApprovalPolicy); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opsJSON), &t.AllowedOperations); err != nil {
			return nil, fmt.Errorf("unmarshal allowed_operations for %s: %w", t.Label, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertTool(ctx context.Context, t ToolRecord) error {
	opsJSON, err := json.Marshal(t.AllowedOperations)
	if err != nil {
		return fmt.Errorf("marshal allowed_operations: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tools (label, transport_url, auth_token, cost_tier, security_tier, allowed_operations, approval_policy)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(label) DO UPDATE SET
		   transport_url=excluded.transport_url,
		   auth_token=excluded.auth_token,
		   cost_tier=excluded.cost_tier,
		   security_tier=excluded.security_tier,
		   allowed_operations=excluded.allowed_operations,
		   approval_policy=excluded.approval_policy`,
		t.Label, t.TransportURL, t.AuthToken, t.CostTier, t.SecurityTier, string(opsJSON), t.ApprovalPolicy)
	return err
}

func (s *SQLiteStore) DeleteTool(ctx context.Context, label string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE label = ?`, label)
	return err
}

// Approval audit trail

func (s *SQLiteStore) LogApprovalAudit(ctx context.Context, entry ApprovalAuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_audit (request_id, from_state, to_state, at, decider, notes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.FromState, entry.ToState, entry.At, entry.Decider, entry.Notes)
	return err
}

func (s *SQLiteStore) ListApprovalAudit(ctx context.Context, limit, offset int) ([]ApprovalAuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, from_state, to_state, at, decider, notes
		 FROM approval_audit ORDER BY at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ApprovalAuditRecord
	for rows.Next() {
		var e ApprovalAuditRecord
		var at string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.FromState, &e.ToState, &at, &e.Decider, &e.Notes); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Analyze request log

func (s *SQLiteStore) LogAnalyzeRequest(ctx context.Context, entry AnalyzeLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyze_log (timestamp, request_id, task_tier, mode, confidence, wall_bounce_verified, tier_escalated, total_cost_usd, total_latency_ms, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.RequestID, entry.TaskTier, entry.Mode, entry.Confidence,
		entry.WallBounceVerified, entry.TierEscalated, entry.TotalCostUSD, entry.TotalLatencyMS, entry.ErrorKind)
	return err
}

func (s *SQLiteStore) ListAnalyzeRequests(ctx context.Context, limit, offset int) ([]AnalyzeLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, task_tier, mode, confidence, wall_bounce_verified, tier_escalated, total_cost_usd, total_latency_ms, error_kind
		 FROM analyze_log ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AnalyzeLog
	for rows.Next() {
		var l AnalyzeLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.RequestID, &l.TaskTier, &l.Mode, &l.Confidence,
			&l.WallBounceVerified, &l.TierEscalated, &l.TotalCostUSD, &l.TotalLatencyMS, &l.ErrorKind); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

// PruneOldLogs deletes approval_audit and analyze_log rows older than
// retention, returning the total number of rows removed.
func (s *SQLiteStore) PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var total int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyze_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM approval_audit WHERE at < ?`, cutoff)
	if err != nil {
		return total, err
	}
	n, _ = res.RowsAffected()
	total += n
	return total, nil
}
