package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

const (
	DeliveryDelivered = "delivered"
	DeliveryTruncated = "truncated"
	DeliveryFailed    = "failed"
)

// RecordDelivery stores the latest outcome for a (candidate, channel) pair.
func (d *DB) RecordDelivery(ctx context.Context, fingerprint, channel, status string, attempts int, errMsg string) error {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if fingerprint == "" || channel == "" {
		return nil
	}

	query, args, err := d.sb.Insert("deliveries").
		Columns("fingerprint", "channel", "status", "attempts", "error", "at").
		Values(fingerprint, channel, status, attempts, errMsg, formatTS(d.now())).
		Suffix(`ON CONFLICT (fingerprint, channel) DO UPDATE SET
  status = excluded.status,
  attempts = excluded.attempts,
  error = excluded.error,
  at = excluded.at`).ToSql()
	if err != nil {
		return err
	}
	_, err = d.Pool.ExecContext(ctx, query, args...)
	return err
}

// Delivered reports whether the channel already received the candidate.
func (d *DB) Delivered(ctx context.Context, fingerprint, channel string) (bool, error) {
	query, args, err := d.sb.Select("status").From("deliveries").
		Where(sq.Eq{"fingerprint": fingerprint, "channel": strings.ToLower(strings.TrimSpace(channel))}).
		Limit(1).ToSql()
	if err != nil {
		return false, err
	}

	var status string
	err = d.Pool.QueryRowContext(ctx, query, args...).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == DeliveryDelivered || status == DeliveryTruncated, nil
}
