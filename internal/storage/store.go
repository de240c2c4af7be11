// Package storage is the SQLite-backed persistence layer for sessions,
// telemetry, colors, tenant secrets and the maintenance log.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// qb builds SQLite statements with ? placeholders
var qb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Store provides database access. Writes go through a single connection;
// reads use a separate query-only pool so they never queue behind a writer.
type Store struct {
	db   *sql.DB
	ro   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies pending migrations
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, ro: db, path: path}
	if path == memoryPath {
		return s, nil
	}

	ro, err := sql.Open("sqlite", dsn(path, true))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening read pool: %w", err)
	}
	ro.SetMaxOpenConns(4)
	ro.SetConnMaxIdleTime(5 * time.Minute)
	s.ro = ro
	return s, nil
}

func dsn(path string, readOnly bool) string {
	if path == memoryPath {
		return "file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	d := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if readOnly {
		d += "&_pragma=query_only(1)"
	}
	return d
}

// Close closes both connection pools
func (s *Store) Close() error {
	if s.ro != s.db {
		s.ro.Close()
	}
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// exec runs a write statement with one retry on transient lock errors
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withRetry(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// execBuilder runs a squirrel write statement through exec
func (s *Store) execBuilder(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// inTx runs fn inside a write transaction, retrying the whole transaction
// once if it fails with a transient error
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// query runs a squirrel select against the read pool
func (s *Store) query(ctx context.Context, b sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows *sql.Rows
	err = withRetry(ctx, func() error {
		var err error
		rows, err = s.ro.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
