package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/joingate/internal/requests"
)

// SQLConfig holds connection pool settings.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default pool settings.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore persists records in a SQL table. It speaks to PostgreSQL through
// lib/pq and to SQLite through modernc.org/sqlite.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// ParseDSN maps a history DSN onto a database/sql driver name and data
// source. postgres:// and postgresql:// URLs use PostgreSQL; sqlite:<path>
// or a bare file path use SQLite.
func ParseDSN(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", errors.New("dsn is required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.Contains(dsn, "://"):
		return "", "", fmt.Errorf("unsupported history dsn scheme in %q", dsn)
	default:
		return "sqlite", dsn, nil
	}
}

// OpenSQLStore opens the database named by dsn and creates the history table.
func OpenSQLStore(ctx context.Context, dsn string, config *SQLConfig) (*SQLStore, error) {
	driver, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultSQLConfig()
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLStore{db: db, driver: driver}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Driver returns the database/sql driver name in use.
func (s *SQLStore) Driver() string {
	return s.driver
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const createTable = `
CREATE TABLE IF NOT EXISTS join_request_history (
	request_id      TEXT NOT NULL,
	resolved_at_ms  BIGINT NOT NULL,
	group_id        TEXT NOT NULL,
	requester_id    TEXT NOT NULL,
	display_name    TEXT,
	status          TEXT NOT NULL,
	resolved_by     TEXT NOT NULL,
	reject_reason   TEXT,
	candidate       TEXT,
	already_decided BOOLEAN NOT NULL DEFAULT FALSE,
	admitted_at_ms  BIGINT NOT NULL,
	PRIMARY KEY (request_id, resolved_at_ms)
)`

// Migrate creates the history table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// Append inserts a record. Re-appending the same resolution is a no-op.
func (s *SQLStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO join_request_history (request_id, resolved_at_ms, group_id, requester_id, display_name, status, resolved_by, reject_reason, candidate, already_decided, admitted_at_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (request_id, resolved_at_ms) DO NOTHING
	`),
		rec.RequestID,
		rec.ResolvedAt.UnixMilli(),
		rec.GroupID,
		rec.RequesterID,
		nullableString(rec.DisplayName),
		string(rec.Status),
		rec.ResolvedBy,
		nullableString(rec.RejectReason),
		nullableString(rec.Candidate),
		rec.AlreadyDecided,
		rec.AdmittedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

const selectColumns = `request_id, resolved_at_ms, group_id, requester_id, display_name, status, resolved_by, reject_reason, candidate, already_decided, admitted_at_ms`

// Get returns the newest record for requestID, or nil.
func (s *SQLStore) Get(ctx context.Context, requestID string) (*Record, error) {
	if requestID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+selectColumns+`
		FROM join_request_history WHERE request_id = ?
		ORDER BY resolved_at_ms DESC LIMIT 1
	`), requestID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]Record, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM join_request_history
		ORDER BY resolved_at_ms DESC`
	args := []any{}
	switch {
	case limit > 0:
		query += " LIMIT ?"
		args = append(args, limit)
	case offset > 0:
		query += " LIMIT " + s.unlimited()
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// rebind rewrites ? placeholders into the $N form PostgreSQL expects.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unlimited is the LIMIT operand meaning "no limit", needed before OFFSET.
func (s *SQLStore) unlimited() string {
	if s.driver == "postgres" {
		return "ALL"
	}
	return "-1"
}

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner recordScanner) (*Record, error) {
	var (
		rec          Record
		resolvedAtMS int64
		admittedAtMS int64
		status       string
		displayName  sql.NullString
		rejectReason sql.NullString
		candidate    sql.NullString
	)
	if err := scanner.Scan(
		&rec.RequestID,
		&resolvedAtMS,
		&rec.GroupID,
		&rec.RequesterID,
		&displayName,
		&status,
		&rec.ResolvedBy,
		&rejectReason,
		&candidate,
		&rec.AlreadyDecided,
		&admittedAtMS,
	); err != nil {
		return nil, err
	}
	rec.Status = requests.Status(status)
	rec.ResolvedAt = time.UnixMilli(resolvedAtMS)
	rec.AdmittedAt = time.UnixMilli(admittedAtMS)
	rec.DisplayName = displayName.String
	rec.RejectReason = rejectReason.String
	rec.Candidate = candidate.String
	return &rec, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
