package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// HistoryStore implements Store using SQLite.
type HistoryStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

var _ Store = (*HistoryStore)(nil)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// RecordTimeout bounds each insert made by the event subscriber.
	RecordTimeout time.Duration
}

// NewHistoryStore creates a new store. Init must be called before use.
func NewHistoryStore(cfg Config, logger zerolog.Logger) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.RecordTimeout == 0 {
		cfg.RecordTimeout = 5 * time.Second
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &HistoryStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "stores").Logger(),
	}, nil
}

// Init opens the database, creating its folder if needed.
func (s *HistoryStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database folder: %w", err)
		}
		dsn = "file:" + s.cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*HistoryStore, error) {
	s, err := NewHistoryStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *HistoryStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Record inserts one event. Recording the same event twice keeps the first row.
func (s *HistoryStore) Record(ctx context.Context, event telemetry.Event) error {
	if event.ID == "" {
		return fmt.Errorf("event has no id")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	var duration sql.NullInt64
	if ms, ok := event.Measures[engine.MeasureTimeCost]; ok {
		duration = sql.NullInt64{Int64: int64(ms), Valid: true}
	}

	query := `
		INSERT OR IGNORE INTO history (
			id, timestamp_ms, name, component, correlation_id, env, success,
			error_class, error_name, error_message, duration_ms, properties
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp.UnixMilli(),
		event.Name,
		event.Component,
		event.CorrelationID,
		event.Properties[engine.PropEnv],
		!event.IsError(),
		event.ErrorClass,
		event.ErrorName,
		event.ErrorMessage,
		duration,
		string(props),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// Subscriber returns an event subscriber that records every event it
// receives. Failures are logged.
func (s *HistoryStore) Subscriber() telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecordTimeout)
		defer cancel()
		if err := s.Record(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("event", event.Name).Msg("Failed to record history")
		}
	}
}

// List returns recorded events, newest first.
func (s *HistoryStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var (
		where []string
		args  []any
	)
	if opts.Name != "" {
		where = append(where, "name = ?")
		args = append(args, opts.Name)
	}
	if opts.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, opts.CorrelationID)
	}
	if opts.FailedOnly {
		where = append(where, "success = 0")
	}

	query := `
		SELECT id, timestamp_ms, name, component, correlation_id, env, success,
			error_class, error_name, error_message, duration_ms, properties
		FROM history
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_ms DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			duration sql.NullInt64
			props    string
		)
		if err := rows.Scan(
			&e.ID,
			&ts,
			&e.Name,
			&e.Component,
			&e.CorrelationID,
			&e.Env,
			&e.Success,
			&e.ErrorClass,
			&e.ErrorName,
			&e.ErrorMessage,
			&duration,
			&props,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		if duration.Valid {
			d := time.Duration(duration.Int64) * time.Millisecond
			e.Duration = &d
		}
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties of %s: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Prune deletes events older than before and returns how many were removed.
func (s *HistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM history WHERE timestamp_ms < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}

// HealthCheck verifies the database connection.
func (s *HistoryStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
