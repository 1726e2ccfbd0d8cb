package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
)

// DLQRepository implements out.DLQRepository on postgres.
type DLQRepository struct {
	db *sqlx.DB
}

func NewDLQRepository(db *sqlx.DB) out.DLQRepository {
	return &DLQRepository{db: db}
}

const dlqColumns = `
	id, event_type, payload, error, retry_count, max_retries,
	next_retry_at, status, created_at, updated_at`

func (r *DLQRepository) Insert(ctx context.Context, entry *domain.DeadLetterEntry) error {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dead_letter_queue (
			id, event_type, payload, error, retry_count, max_retries,
			next_retry_at, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.ID, entry.EventType, nullJSON(entry.Payload), entry.Error,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.Status,
		entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return dbErr("insert dlq entry", err, "dlq entry")
	}
	return nil
}

func (r *DLQRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error) {
	var row dlqRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+dlqColumns+` FROM dead_letter_queue WHERE id = $1`, id)
	if err != nil {
		return nil, dbErr("get dlq entry", err, "dlq entry")
	}
	return row.toDomain(), nil
}

func (r *DLQRepository) ClaimDue(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	// Skip-locked claim so concurrent sweepers never grab the same entry.
	var rows []dlqRow
	err := r.db.SelectContext(ctx, &rows, `
		UPDATE dead_letter_queue SET status = 'retrying', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM dead_letter_queue
			WHERE status = 'pending' AND next_retry_at <= NOW()
			ORDER BY next_retry_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED)
		RETURNING `+dlqColumns, limit)
	if err != nil {
		return nil, dbErr("claim due dlq entries", err, "dlq entry")
	}
	entries := make([]domain.DeadLetterEntry, len(rows))
	for i := range rows {
		entries[i] = *rows[i].toDomain()
	}
	return entries, nil
}

func (r *DLQRepository) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	// A claim whose sweeper died never reaches a terminal status; past
	// the age threshold it is handed back for the next sweep.
	res, err := r.db.ExecContext(ctx, `
		UPDATE dead_letter_queue SET status = 'pending', updated_at = NOW()
		WHERE status = 'retrying' AND updated_at < $1`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, dbErr("reclaim stale dlq claims", err, "dlq entry")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *DLQRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, domain.DLQResolved)
}

func (r *DLQRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, domain.DLQFailed)
}

func (r *DLQRepository) setStatus(ctx context.Context, id uuid.UUID, status domain.DLQStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE dead_letter_queue SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return dbErr("update dlq status", err, "dlq entry")
	}
	return nil
}

func (r *DLQRepository) Reschedule(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dead_letter_queue SET
			status = 'pending',
			retry_count = $2,
			next_retry_at = $3,
			error = $4,
			updated_at = NOW()
		WHERE id = $1`,
		id, retryCount, nextRetryAt, lastError)
	if err != nil {
		return dbErr("reschedule dlq entry", err, "dlq entry")
	}
	return nil
}

func (r *DLQRepository) List(ctx context.Context, status domain.DLQStatus, limit, offset int) ([]domain.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += ` WHERE status = $1`
	}
	args = append(args, limit, offset)
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	var rows []dlqRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dbErr("list dlq entries", err, "dlq entry")
	}
	entries := make([]domain.DeadLetterEntry, len(rows))
	for i := range rows {
		entries[i] = *rows[i].toDomain()
	}
	return entries, nil
}

// ===== Row mapping =====

type dlqRow struct {
	ID          uuid.UUID `db:"id"`
	EventType   string    `db:"event_type"`
	Payload     []byte    `db:"payload"`
	Error       string    `db:"error"`
	RetryCount  int       `db:"retry_count"`
	MaxRetries  int       `db:"max_retries"`
	NextRetryAt time.Time `db:"next_retry_at"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *dlqRow) toDomain() *domain.DeadLetterEntry {
	return &domain.DeadLetterEntry{
		ID:          r.ID,
		EventType:   r.EventType,
		Payload:     r.Payload,
		Error:       r.Error,
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		NextRetryAt: r.NextRetryAt,
		Status:      domain.DLQStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
