package store

import (
	"context"
	"fmt"
)

// migrations[i] brings the schema from version i to i+1.
var migrations = [][]string{
	{
		`
CREATE TABLE IF NOT EXISTS candidates (
  fingerprint TEXT PRIMARY KEY,
  platform TEXT NOT NULL,
  post_id TEXT NOT NULL,
  subreddit TEXT NOT NULL DEFAULT '',
  keyword TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  body TEXT NOT NULL DEFAULT '',
  author TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  post_score INTEGER NOT NULL DEFAULT 0,
  num_comments INTEGER NOT NULL DEFAULT 0,
  posted_at TEXT NOT NULL DEFAULT '',
  fetched_at TEXT NOT NULL,
  intent TEXT NOT NULL DEFAULT '',
  confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
  reasoning TEXT NOT NULL DEFAULT '',
  relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  draft_text TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  comment_id TEXT NOT NULL DEFAULT '',
  version BIGINT NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status);`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_fetched_at ON candidates(fetched_at);`,
		`
CREATE TABLE IF NOT EXISTS candidate_history (
  fingerprint TEXT NOT NULL,
  seq INTEGER NOT NULL,
  status TEXT NOT NULL,
  at TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (fingerprint, seq)
);`,
	},
	{
		`
CREATE TABLE IF NOT EXISTS deliveries (
  fingerprint TEXT NOT NULL,
  channel TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  at TEXT NOT NULL,
  PRIMARY KEY (fingerprint, channel)
);`,
	},
	{
		`
CREATE TABLE IF NOT EXISTS post_claims (
  fingerprint TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  claimed_at TEXT NOT NULL
);`,
	},
	{
		`
CREATE TABLE IF NOT EXISTS comment_slots (
  name TEXT PRIMARY KEY,
  last_at TEXT NOT NULL
);`,
	},
}

func SchemaVersion() int { return len(migrations) }

// Migrate applies pending migrations in one transaction. Safe to call from
// every process on startup.
func Migrate(ctx context.Context, d *DB) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var v int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version;`).Scan(&v); err != nil {
		return err
	}

	for i := v; i < len(migrations); i++ {
		for _, stmt := range migrations[i] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		q, args, err := d.sb.Insert("schema_version").Columns("version").Values(i + 1).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}
