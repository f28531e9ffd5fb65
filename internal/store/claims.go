package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"radar-engine/internal/domain"
)

// ClaimPost reserves the right to submit fp's reply. It succeeds only while
// the candidate is APPROVED or EDITED and no other owner holds a claim younger
// than lease. The status check and the claim share one transaction, so a
// claim can never be taken on a candidate that another poster already moved
// to POSTED or FAILED.
func (d *DB) ClaimPost(ctx context.Context, fingerprint, owner string, lease time.Duration) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := d.get(ctx, tx, fingerprint, true)
	if err != nil {
		return err
	}
	if cur.Status != domain.StatusApproved && cur.Status != domain.StatusEdited {
		return &domain.StateConflictError{Fingerprint: fingerprint, From: cur.Status, To: domain.StatusPosted, Reason: "not approved"}
	}

	now := d.now().UTC()
	query, args, err := d.sb.Delete("post_claims").
		Where(sq.Eq{"fingerprint": fingerprint}).
		Where(sq.Lt{"claimed_at": formatTS(now.Add(-lease))}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("expire post claim: %w", err)
	}

	query, args, err = d.sb.Insert("post_claims").Columns("fingerprint", "owner", "claimed_at").
		Values(fingerprint, owner, formatTS(now)).
		Suffix("ON CONFLICT (fingerprint) DO NOTHING").ToSql()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("claim post: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &domain.StateConflictError{Fingerprint: fingerprint, From: cur.Status, To: domain.StatusPosted, Reason: domain.ReasonPostInProgress}
	}
	return tx.Commit()
}

// ReleasePost drops owner's claim on fp. Claims held by others are left alone.
func (d *DB) ReleasePost(ctx context.Context, fingerprint, owner string) error {
	query, args, err := d.sb.Delete("post_claims").
		Where(sq.Eq{"fingerprint": fingerprint, "owner": owner}).ToSql()
	if err != nil {
		return err
	}
	_, err = d.Pool.ExecContext(ctx, query, args...)
	return err
}

// ReserveCommentSlot books the next reply slot at least gap after the last one
// booked by any process sharing this store, and returns how long the caller
// must wait before submitting.
func (d *DB) ReserveCommentSlot(ctx context.Context, gap time.Duration) (time.Duration, error) {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	b := d.sb.Select("last_at").From("comment_slots").Where(sq.Eq{"name": "reply"})
	if d.Dialect == DialectPostgres {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	now := d.now().UTC()
	at := now
	var last string
	switch err := tx.QueryRowContext(ctx, query, args...).Scan(&last); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("read comment slot: %w", err)
	default:
		if next := parseTS(last).Add(gap); next.After(at) {
			at = next
		}
	}

	query, args, err = d.sb.Insert("comment_slots").Columns("name", "last_at").
		Values("reply", formatTS(at)).
		Suffix("ON CONFLICT (name) DO UPDATE SET last_at = excluded.last_at").ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("book comment slot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return at.Sub(now), nil
}
