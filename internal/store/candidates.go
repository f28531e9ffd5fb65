package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"radar-engine/internal/domain"
	"radar-engine/internal/metrics"
)

const reasonConcurrentUpdate = "concurrent update"

var candidateColumns = []string{
	"fingerprint", "platform", "post_id", "subreddit", "keyword", "title", "body", "author", "url",
	"post_score", "num_comments", "posted_at", "fetched_at",
	"intent", "confidence", "reasoning", "relevance_score", "draft_text",
	"status", "comment_id", "version", "created_at", "updated_at",
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type Filter struct {
	Statuses     []domain.Status
	Intents      []domain.Intent
	FetchedSince time.Time
	Limit        int
	OldestFirst  bool
}

// Get returns domain.ErrNotFound when the fingerprint has never been seen.
func (d *DB) Get(ctx context.Context, fingerprint string) (domain.Candidate, error) {
	return d.get(ctx, d.Pool, fingerprint, false)
}

func (d *DB) get(ctx context.Context, q queryer, fingerprint string, forUpdate bool) (domain.Candidate, error) {
	b := d.sb.Select(candidateColumns...).From("candidates").Where(sq.Eq{"fingerprint": fingerprint})
	if forUpdate && d.Dialect == DialectPostgres {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return domain.Candidate{}, err
	}

	c, err := scanCandidate(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Candidate{}, fmt.Errorf("%s: %w", fingerprint, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("get candidate: %w", err)
	}

	hist, err := d.histories(ctx, q, []string{fingerprint})
	if err != nil {
		return domain.Candidate{}, err
	}
	c.History = hist[fingerprint]
	return c, nil
}

// Create inserts c if its fingerprint is unseen. created is false for a duplicate.
func (d *DB) Create(ctx context.Context, c domain.Candidate) (created bool, err error) {
	if c.Fingerprint == "" {
		return false, errors.New("candidate fingerprint is empty")
	}
	if c.Status != domain.StatusNew || len(c.History) == 0 {
		return false, fmt.Errorf("create %s: new candidates start in NEW with history", c.Fingerprint)
	}

	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err = d.insert(ctx, tx, c)
	if err != nil || !created {
		return false, err
	}
	return true, tx.Commit()
}

func (d *DB) insert(ctx context.Context, tx *sql.Tx, c domain.Candidate) (bool, error) {
	now := d.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	fetched := c.Post.FetchedAt
	if fetched.IsZero() {
		fetched = c.CreatedAt
	}

	query, args, err := d.sb.Insert("candidates").Columns(candidateColumns...).Values(
		c.Fingerprint, c.Post.Platform, c.Post.ID, c.Post.Subreddit, c.Keyword, c.Post.Title, c.Post.Body,
		c.Post.Author, c.Post.URL, c.Post.Score, c.Post.NumComments, formatTS(c.Post.CreatedAt), formatTS(fetched),
		string(c.Intent), c.Confidence, c.Reasoning, c.Score, c.Draft,
		string(c.Status), c.CommentID, 1, formatTS(c.CreatedAt), formatTS(now),
	).Suffix("ON CONFLICT (fingerprint) DO NOTHING").ToSql()
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	for i, h := range c.History {
		if err := d.appendHistory(ctx, tx, c.Fingerprint, i, h); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Upsert is the atomic read-modify-write. A new fingerprint is inserted; an
// existing one is replaced only if c is a valid successor of the stored record.
// Anything else fails with *domain.StateConflictError and leaves the row untouched.
func (d *DB) Upsert(ctx context.Context, c domain.Candidate) (domain.Candidate, error) {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return domain.Candidate{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := d.get(ctx, tx, c.Fingerprint, true)
	if errors.Is(err, domain.ErrNotFound) {
		if c.Status != domain.StatusNew {
			return domain.Candidate{}, &domain.StateConflictError{
				Fingerprint: c.Fingerprint, From: "", To: c.Status, Reason: "unknown candidate",
			}
		}
		created, err := d.insert(ctx, tx, c)
		if err != nil {
			return domain.Candidate{}, err
		}
		if !created {
			return domain.Candidate{}, &domain.StateConflictError{
				Fingerprint: c.Fingerprint, To: c.Status, Reason: reasonConcurrentUpdate,
			}
		}
		if err := tx.Commit(); err != nil {
			return domain.Candidate{}, err
		}
		return d.Get(ctx, c.Fingerprint)
	}
	if err != nil {
		return domain.Candidate{}, err
	}

	if err := domain.CheckTransition(cur, c); err != nil {
		return domain.Candidate{}, err
	}

	now := d.now().UTC()
	query, args, err := d.sb.Update("candidates").SetMap(map[string]any{
		"intent":          string(c.Intent),
		"confidence":      c.Confidence,
		"reasoning":       c.Reasoning,
		"relevance_score": c.Score,
		"draft_text":      c.Draft,
		"status":          string(c.Status),
		"comment_id":      c.CommentID,
		"version":         cur.Version + 1,
		"updated_at":      formatTS(now),
	}).Where(sq.Eq{"fingerprint": c.Fingerprint, "version": cur.Version, "status": string(cur.Status)}).ToSql()
	if err != nil {
		return domain.Candidate{}, err
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("update candidate: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return domain.Candidate{}, &domain.StateConflictError{
			Fingerprint: c.Fingerprint, From: cur.Status, To: c.Status, Reason: reasonConcurrentUpdate,
		}
	}

	last := len(c.History) - 1
	if err := d.appendHistory(ctx, tx, c.Fingerprint, last, c.History[last]); err != nil {
		return domain.Candidate{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Candidate{}, err
	}

	metrics.Transitions.WithLabelValues(string(c.Status)).Inc()
	c.Version = cur.Version + 1
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = now
	return c, nil
}

// Update re-reads the candidate, applies mutate to a copy and upserts the
// result. A lost race is retried against the fresh record; mutate decides
// whether the transition still applies.
func (d *DB) Update(ctx context.Context, fingerprint string, mutate func(domain.Candidate) (domain.Candidate, error)) (domain.Candidate, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		cur, err := d.Get(ctx, fingerprint)
		if err != nil {
			return domain.Candidate{}, err
		}
		next, err := mutate(cur)
		if err != nil {
			return domain.Candidate{}, err
		}
		out, err := d.Upsert(ctx, next)
		var sc *domain.StateConflictError
		if errors.As(err, &sc) && sc.Reason == reasonConcurrentUpdate {
			lastErr = err
			continue
		}
		return out, err
	}
	return domain.Candidate{}, lastErr
}

func (d *DB) List(ctx context.Context, f Filter) ([]domain.Candidate, error) {
	b := d.sb.Select(candidateColumns...).From("candidates")
	if len(f.Statuses) > 0 {
		b = b.Where(sq.Eq{"status": statusStrings(f.Statuses)})
	}
	if len(f.Intents) > 0 {
		xs := make([]string, len(f.Intents))
		for i, in := range f.Intents {
			xs[i] = string(in)
		}
		b = b.Where(sq.Eq{"intent": xs})
	}
	if !f.FetchedSince.IsZero() {
		b = b.Where(sq.GtOrEq{"fetched_at": formatTS(f.FetchedSince)})
	}
	if f.OldestFirst {
		b = b.OrderBy("fetched_at ASC", "fingerprint ASC")
	} else {
		b = b.OrderBy("fetched_at DESC", "fingerprint ASC")
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	fps := make([]string, len(out))
	for i := range out {
		fps[i] = out[i].Fingerprint
	}
	hist, err := d.histories(ctx, d.Pool, fps)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].History = hist[out[i].Fingerprint]
	}
	return out, nil
}

// Stats counts candidates per status.
func (d *DB) Stats(ctx context.Context) (map[domain.Status]int, error) {
	query, args, err := d.sb.Select("status", "COUNT(*)").From("candidates").GroupBy("status").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[domain.Status]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[domain.Status(st)] = n
	}
	return out, rows.Err()
}

// Cleanup deletes terminal candidates last updated before now-olderThan,
// together with their history and delivery rows.
func (d *DB) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTS(d.now().Add(-olderThan))
	terminal := statusStrings([]domain.Status{domain.StatusPosted, domain.StatusSkipped, domain.StatusFailed})

	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := d.sb.Select("fingerprint").From("candidates").
		Where(sq.Eq{"status": terminal}).Where(sq.Lt{"updated_at": cutoff}).ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup select: %w", err)
	}
	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return 0, err
		}
		fps = append(fps, fp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(fps) == 0 {
		return 0, nil
	}

	for _, table := range []string{"candidate_history", "deliveries", "post_claims", "candidates"} {
		query, args, err := d.sb.Delete(table).Where(sq.Eq{"fingerprint": fps}).ToSql()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("cleanup %s: %w", table, err)
		}
	}
	return int64(len(fps)), tx.Commit()
}

func (d *DB) appendHistory(ctx context.Context, q queryer, fingerprint string, seq int, h domain.HistoryEntry) error {
	query, args, err := d.sb.Insert("candidate_history").
		Columns("fingerprint", "seq", "status", "at", "actor", "reason").
		Values(fingerprint, seq, string(h.Status), formatTS(h.At), h.Actor, h.Reason).ToSql()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (d *DB) histories(ctx context.Context, q queryer, fps []string) (map[string][]domain.HistoryEntry, error) {
	query, args, err := d.sb.Select("fingerprint", "status", "at", "actor", "reason").
		From("candidate_history").Where(sq.Eq{"fingerprint": fps}).
		OrderBy("fingerprint", "seq").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.HistoryEntry, len(fps))
	for rows.Next() {
		var (
			fp, st, at string
			h          domain.HistoryEntry
		)
		if err := rows.Scan(&fp, &st, &at, &h.Actor, &h.Reason); err != nil {
			return nil, err
		}
		h.Status = domain.Status(st)
		h.At = parseTS(at)
		out[fp] = append(out[fp], h)
	}
	return out, rows.Err()
}

func scanCandidate(r rowScanner) (domain.Candidate, error) {
	var (
		c                                     domain.Candidate
		intent, status                        string
		postedAt, fetchedAt, created, updated string
	)
	err := r.Scan(
		&c.Fingerprint, &c.Post.Platform, &c.Post.ID, &c.Post.Subreddit, &c.Keyword, &c.Post.Title, &c.Post.Body,
		&c.Post.Author, &c.Post.URL, &c.Post.Score, &c.Post.NumComments, &postedAt, &fetchedAt,
		&intent, &c.Confidence, &c.Reasoning, &c.Score, &c.Draft,
		&status, &c.CommentID, &c.Version, &created, &updated,
	)
	if err != nil {
		return domain.Candidate{}, err
	}
	c.Intent = domain.Intent(intent)
	c.Status = domain.Status(status)
	c.Post.CreatedAt = parseTS(postedAt)
	c.Post.FetchedAt = parseTS(fetchedAt)
	c.CreatedAt = parseTS(created)
	c.UpdatedAt = parseTS(updated)
	return c, nil
}

func statusStrings(in []domain.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
