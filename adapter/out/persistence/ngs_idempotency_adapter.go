package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
)

// IdempotencyRepository implements out.IdempotencyRepository on postgres.
type IdempotencyRepository struct {
	db *sqlx.DB
}

func NewIdempotencyRepository(db *sqlx.DB) out.IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Begin(ctx context.Context, key string, ttl, staleAfter time.Duration) (domain.BeginOutcome, json.RawMessage, error) {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, status, expires_at, created_at, updated_at)
		VALUES ($1, 'processing', $2, $3, $3)
		ON CONFLICT (key) DO NOTHING`,
		key, now.Add(ttl), now)
	if err != nil {
		return "", nil, dbErr("reserve idempotency key", err, "idempotency key")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return domain.BeginFresh, nil, nil
	}

	// Key exists. Inspect it under a row lock so two workers cannot both
	// reclaim a stale or expired reservation.
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", nil, dbErr("begin idempotency tx", err, "idempotency key")
	}
	defer tx.Rollback()

	var row struct {
		Status    string       `db:"status"`
		Result    []byte       `db:"result"`
		ExpiresAt time.Time    `db:"expires_at"`
		UpdatedAt sql.NullTime `db:"updated_at"`
	}
	err = tx.GetContext(ctx, &row,
		`SELECT status, result, expires_at, updated_at
		 FROM idempotency_keys WHERE key = $1 FOR UPDATE`, key)
	if err != nil {
		// Deleted between the insert attempt and here; treat as a lost
		// race and let the caller retry.
		return "", nil, dbErr("inspect idempotency key", err, "idempotency key")
	}

	reclaim := false
	switch {
	case row.ExpiresAt.Before(now):
		reclaim = true
	case row.Status == string(domain.IdemProcessing) &&
		row.UpdatedAt.Valid && now.Sub(row.UpdatedAt.Time) > staleAfter:
		// A worker died mid-flight; its reservation is abandoned.
		reclaim = true
	}
	if reclaim {
		if _, err := tx.ExecContext(ctx, `
			UPDATE idempotency_keys SET
				status = 'processing', result = NULL,
				expires_at = $2, updated_at = $3
			WHERE key = $1`,
			key, now.Add(ttl), now); err != nil {
			return "", nil, dbErr("reclaim idempotency key", err, "idempotency key")
		}
		if err := tx.Commit(); err != nil {
			return "", nil, dbErr("commit idempotency tx", err, "idempotency key")
		}
		return domain.BeginFresh, nil, nil
	}

	if err := tx.Commit(); err != nil {
		return "", nil, dbErr("commit idempotency tx", err, "idempotency key")
	}
	if row.Status == string(domain.IdemCompleted) {
		return domain.BeginCompleted, row.Result, nil
	}
	return domain.BeginInProgress, nil, nil
}

func (r *IdempotencyRepository) Complete(ctx context.Context, key string, result json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET
			status = 'completed', result = $2, updated_at = NOW()
		WHERE key = $1`,
		key, nullJSON(result))
	if err != nil {
		return dbErr("complete idempotency key", err, "idempotency key")
	}
	return nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		return 0, dbErr("delete expired idempotency keys", err, "idempotency key")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
