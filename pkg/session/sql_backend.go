package session

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema/sessions.sql
var sessionsSchema string

// SQL drivers supported by SQLBackend.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLConfig holds database/sql connection configuration.
type SQLConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN string `yaml:"dsn" env:"DSN"`
}

// SQLBackend implements StorageBackend on SQLite or PostgreSQL.
// Each session is one row in campaign_sessions; the updated_at column
// (microseconds) is the last-updated index.
type SQLBackend struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
	closed bool
}

// OpenSQLBackend opens the database and applies the embedded schema.
func OpenSQLBackend(ctx context.Context, cfg SQLConfig) (*SQLBackend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("sql dsn is required")
	}

	switch cfg.Driver {
	case DriverSQLite:
		dsn = filepath.Clean(dsn) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverPostgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Driver, err)
	}

	b := &SQLBackend{db: db, driver: cfg.Driver}
	if err := b.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sessionsSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (b *SQLBackend) rebind(query string) string {
	if b.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *SQLBackend) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// Create inserts a new row; a primary key conflict maps to ErrSessionExists.
func (b *SQLBackend) Create(ctx context.Context, s *Session) error {
	if err := b.checkOpen(ctx); err != nil {
		return err
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO campaign_sessions (id, topic, status, updated_at, record) VALUES (?, ?, ?, ?, ?)`),
		s.ID, s.Topic, string(s.Status), s.UpdatedAt.UnixMicro(), string(data),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Save replaces the row for s.
func (b *SQLBackend) Save(ctx context.Context, s *Session) error {
	if err := b.checkOpen(ctx); err != nil {
		return err
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO campaign_sessions (id, topic, status, updated_at, record) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   topic = excluded.topic,
		   status = excluded.status,
		   updated_at = excluded.updated_at,
		   record = excluded.record`),
		s.ID, s.Topic, string(s.Status), s.UpdatedAt.UnixMicro(), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Load retrieves a session by ID.
func (b *SQLBackend) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := b.checkOpen(ctx); err != nil {
		return nil, err
	}

	var record string
	err := b.db.QueryRowContext(ctx, b.rebind(
		`SELECT record FROM campaign_sessions WHERE id = ?`), sessionID,
	).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}

	return Decode([]byte(record), sessionID, b.driver+" campaign_sessions row "+sessionID)
}

// Latest returns the most recently updated session ID.
func (b *SQLBackend) Latest(ctx context.Context) (string, error) {
	if err := b.checkOpen(ctx); err != nil {
		return "", err
	}

	var id string
	err := b.db.QueryRowContext(ctx,
		`SELECT id FROM campaign_sessions ORDER BY updated_at DESC, id DESC LIMIT 1`,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoSessions
		}
		return "", fmt.Errorf("select latest session: %w", err)
	}
	return id, nil
}

// List returns session summaries ordered by ID, newest first.
func (b *SQLBackend) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	if err := b.checkOpen(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, topic, status, updated_at FROM campaign_sessions ORDER BY id DESC`
	var args []any
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			status  string
			updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Topic, &status, &updated); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.Status = Status(status)
		sum.UpdatedAt = time.UnixMicro(updated).UTC()
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return summaries, nil
}

// Ping checks the database connection.
func (b *SQLBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(ctx); err != nil {
		return err
	}
	return b.db.PingContext(ctx)
}

// Close closes the database handle.
func (b *SQLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
