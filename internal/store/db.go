package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type DB struct {
	Pool    *sql.DB
	Dialect Dialect

	sb  sq.StatementBuilderType
	now func() time.Time
}

// Open opens the sqlite file at path.
func Open(path string) (*DB, error) {
	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	// _txlock=immediate takes the write lock at BEGIN so read-then-write transactions
	// from two processes queue on busy_timeout instead of failing on upgrade.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	return OpenDSN(DialectSQLite, dsn)
}

// OpenDSN opens either dialect. Both the scanner and the approval listener may
// hold a connection at the same time; all serialization happens in the database.
func OpenDSN(dialect Dialect, dsn string) (*DB, error) {
	var (
		driver string
		ph     sq.PlaceholderFormat
	)
	switch dialect {
	case DialectSQLite, "":
		dialect, driver, ph = DialectSQLite, "sqlite", sq.Question
	case DialectPostgres:
		driver, ph = "postgres", sq.Dollar
	default:
		return nil, fmt.Errorf("unknown database driver %q", dialect)
	}

	pool, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		pool.SetMaxOpenConns(1) // sqlite typically wants 1 writer
	} else {
		pool.SetMaxOpenConns(10)
	}
	pool.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	return &DB{
		Pool:    pool,
		Dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(ph),
		now:     time.Now,
	}, nil
}

func (d *DB) Close() error {
	if d == nil || d.Pool == nil {
		return nil
	}
	return d.Pool.Close()
}

func (d *DB) Ping(ctx context.Context) error { return d.Pool.PingContext(ctx) }

// Checkpoint folds the sqlite WAL back into the main file. It is a no-op on postgres.
func (d *DB) Checkpoint(ctx context.Context) error {
	if d.Dialect != DialectSQLite {
		return nil
	}
	_, err := d.Pool.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL);`)
	return err
}

// SetClock overrides the time source used for timestamps and cleanup cutoffs.
func (d *DB) SetClock(now func() time.Time) { d.now = now }

const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}
