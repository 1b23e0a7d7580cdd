package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig configures the SQLite audit sink.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteSink stores audit events in SQLite.
type SQLiteSink struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteSink opens the database and creates the schema.
func NewSQLiteSink(config *SQLiteConfig) (*SQLiteSink, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "audit.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, &SinkError{Backend: "sqlite", Op: "open", Err: err}
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteSink{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit sink initialized", "path", config.Path, "wal_mode", config.WALMode)
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return &SinkError{Backend: "sqlite", Op: "enable_wal", Err: err}
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return &SinkError{Backend: "sqlite", Op: "set_busy_timeout", Err: err}
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return &SinkError{Backend: "sqlite", Op: "create_schema", Err: err}
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return &SinkError{Backend: "sqlite", Op: "insert_schema_version", Err: err}
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil && err != sql.ErrNoRows {
		return &SinkError{Backend: "sqlite", Op: "get_schema_version", Err: err}
	}
	if version != SchemaVersion {
		return &SinkError{Backend: "sqlite", Op: "schema_version_mismatch",
			Err: fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version)}
	}
	return nil
}

// Emit inserts the event.
func (s *SQLiteSink) Emit(ctx context.Context, e Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	details, err := json.Marshal(e.Details)
	if err != nil {
		return &SinkError{Backend: "sqlite", Op: "marshal_details", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, timestamp, type, level, source, target, details, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), e.Type, string(e.Level), e.Source, e.Target, string(details), e.Result,
	)
	if err != nil {
		return &SinkError{Backend: "sqlite", Op: "insert", Err: err}
	}
	return nil
}

// Query returns events for target (all targets when empty) at or after
// since, oldest first. A non-positive limit defaults to 100.
func (s *SQLiteSink) Query(ctx context.Context, target string, since time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, timestamp, type, level, source, target, details, result
	      FROM audit_events WHERE timestamp >= ?`
	args := []any{since.UTC()}
	if target != "" {
		q += " AND target = ?"
		args = append(args, target)
	}
	q += " ORDER BY timestamp ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &SinkError{Backend: "sqlite", Op: "query", Err: err}
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e       Event
			level   string
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &level, &e.Source, &e.Target, &details, &e.Result); err != nil {
			return nil, &SinkError{Backend: "sqlite", Op: "scan", Err: err}
		}
		e.Level = Level(level)
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, &SinkError{Backend: "sqlite", Op: "unmarshal_details", Err: err}
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &SinkError{Backend: "sqlite", Op: "rows", Err: err}
	}
	return events, nil
}

// Count returns the number of stored events.
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil {
		return 0, &SinkError{Backend: "sqlite", Op: "count", Err: err}
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteSink) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &SinkError{Backend: "sqlite", Op: "ping", Err: err}
	}
	return nil
}

// Close closes the database. Further Emit calls return ErrSinkClosed.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
