// Package storage provides the repository layer over two interchangeable
// backends: an embedded SQLite file (default, no external dependencies) and
// PostgreSQL for hosted deployments. Semantics are identical across both;
// the repository test matrix runs against each.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Typed storage errors. Services map these onto wire codes; nothing above
// this package ever string-matches driver errors.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrReference = errors.New("referenced record missing")
	ErrCapacity  = errors.New("capacity exceeded")
)

// Store wraps a database connection and provides all data access methods.
type Store struct {
	db     *sql.DB
	driver string
	log    zerolog.Logger
}

// Open connects and migrates. The URL can be:
//   - a file path like "clawbuds.db" → SQLite
//   - "sqlite:///path/to/file.db" → SQLite
//   - "postgres://…" → PostgreSQL
func Open(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db, driver: driver, log: log.With().Str("component", "storage").Logger()}

	if driver == driverSQLite {
		// SQLite performs best with WAL mode and a single writer.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign_keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports which backend is active ("sqlite" or "postgres").
func (s *Store) Driver() string {
	return s.driver
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return driverPostgres, u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return driverSQLite, strings.TrimPrefix(u, "sqlite://")
	}
	// Bare paths are SQLite files.
	return driverSQLite, u
}

// rebind rewrites $N placeholders to ? for SQLite. Queries are written in
// PostgreSQL style and must use each placeholder once, in order.
func (s *Store) rebind(q string) string {
	if s.driver != driverSQLite {
		return q
	}
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); i++ {
		if q[i] == '$' && i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// mapErr folds driver-specific constraint failures into the typed sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", ErrReference, pqErr.Constraint)
		}
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%w: %s", ErrReference, msg)
	}
	return err
}

// exec runs a statement with placeholder rebinding and error mapping.
func (s *Store) exec(ctx context.Context, q string, args ...interface{}) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	return res, mapErr(err)
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	return rows, mapErr(err)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

// tx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(sqlTx); err != nil {
		sqlTx.Rollback()
		return err
	}
	return mapErr(sqlTx.Commit())
}

func (s *Store) txExec(ctx context.Context, tx *sql.Tx, q string, args ...interface{}) (sql.Result, error) {
	res, err := tx.ExecContext(ctx, s.rebind(q), args...)
	return res, mapErr(err)
}

func (s *Store) txQueryRow(ctx context.Context, tx *sql.Tx, q string, args ...interface{}) *sql.Row {
	return tx.QueryRowContext(ctx, s.rebind(q), args...)
}

// ===== TIME ENCODING =====
//
// Timestamps are stored as UTC epoch milliseconds (BIGINT) so ordering and
// comparison behave identically on both backends.

func msec(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMsec(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMsec(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return msec(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMsec(v.Int64)
	return &t
}

// ===== JSON ENCODING =====
//
// Set- and map-valued attributes are stored as JSON text; writers serialize
// and readers deserialize at this boundary only.

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func encodeRaw(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

func decodeRaw(s string) json.RawMessage {
	if s == "" || s == "{}" || s == "null" {
		return nil
	}
	return json.RawMessage(s)
}

func decodeFloatMap(s string) map[string]float64 {
	if s == "" || s == "{}" {
		return nil
	}
	var out map[string]float64
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// scanStringRows scans a single-string-column result set into a slice.
// It closes rows before returning.
func scanStringRows(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
