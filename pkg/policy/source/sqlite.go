package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/codec"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS policies (
	policy_id TEXT PRIMARY KEY,
	body BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const strategyKey = "default_strategy"

// SQLiteSource persists bootstrap policies in SQLite. Policies are stored in
// the JSON snapshot envelope, so rows written by older builds either decode
// or fail with ErrVersionMismatch.
type SQLiteSource struct {
	db     *sql.DB
	codec  codec.Codec
	logger *slog.Logger
}

// NewSQLiteSource opens (and if needed creates) the database at path.
func NewSQLiteSource(path string, busyTimeout time.Duration, logger *slog.Logger) (*SQLiteSource, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteSource{db: db, codec: codec.JSON{}, logger: logger.With("component", "source.sqlite")}, nil
}

// Name returns "sqlite".
func (s *SQLiteSource) Name() string { return "sqlite" }

// Load reads every stored policy, ordered by id, and the default strategy.
func (s *SQLiteSource) Load(ctx context.Context) (*Bundle, error) {
	out := &Bundle{}

	var strategy string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, strategyKey).Scan(&strategy)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read default strategy: %w", err)
	}
	out.Strategy = policy.ResolutionStrategy(strategy)

	rows, err := s.db.QueryContext(ctx, `SELECT policy_id, body FROM policies ORDER BY policy_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p, err := s.codec.Decode(body)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", id, err)
		}
		p.ID = id
		out.Policies = append(out.Policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate policies: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	s.logger.Debug("policy bundle loaded", "policies", len(out.Policies), "strategy", out.Strategy)
	return out, nil
}

// Save inserts or replaces a policy.
func (s *SQLiteSource) Save(ctx context.Context, p *policy.Policy) error {
	if p == nil || p.ID == "" {
		return &policy.ValidationError{Field: "policy_id", Message: "stored policies need an id"}
	}
	if err := policy.Validate(p); err != nil {
		return err
	}
	body, err := s.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policies (policy_id, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(policy_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		p.ID, body, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// Delete removes a policy. Deleting a missing id returns ErrNotFound.
func (s *SQLiteSource) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE policy_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("policy %q: %w", id, policy.ErrNotFound)
	}
	return nil
}

// SetStrategy stores the default resolution strategy.
func (s *SQLiteSource) SetStrategy(ctx context.Context, strategy policy.ResolutionStrategy) error {
	if !strategy.Valid() {
		return fmt.Errorf("unknown default strategy %q", strategy)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strategyKey, string(strategy))
	if err != nil {
		return fmt.Errorf("failed to save default strategy: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
