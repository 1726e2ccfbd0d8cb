package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
)

// QuarantineRepository implements out.QuarantineRepository on postgres.
type QuarantineRepository struct {
	db *sqlx.DB
}

func NewQuarantineRepository(db *sqlx.DB) out.QuarantineRepository {
	return &QuarantineRepository{db: db}
}

const quarantineColumns = `
	id, raw_email_id, extraction_data, confidence, quarantine_reason,
	reviewed_at, reviewed_by, action_taken, edited_data, created_at`

func (r *QuarantineRepository) Insert(ctx context.Context, q *domain.QuarantineEvent) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quarantine_events (
			id, raw_email_id, extraction_data, confidence, quarantine_reason,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		q.ID, q.RawEmailID, nullJSON(q.ExtractionData), q.Confidence,
		q.Reason, q.CreatedAt)
	if err != nil {
		return dbErr("insert quarantine event", err, "quarantine event")
	}
	return nil
}

func (r *QuarantineRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.QuarantineEvent, error) {
	var row quarantineRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+quarantineColumns+` FROM quarantine_events WHERE id = $1`, id)
	if err != nil {
		return nil, dbErr("get quarantine event", err, "quarantine event")
	}
	return row.toDomain(), nil
}

func (r *QuarantineRepository) ListPending(ctx context.Context, limit, offset int) ([]domain.QuarantineEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []quarantineRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+quarantineColumns+`
		 FROM quarantine_events
		 WHERE reviewed_at IS NULL
		 ORDER BY created_at
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, dbErr("list pending quarantine", err, "quarantine event")
	}
	events := make([]domain.QuarantineEvent, len(rows))
	for i := range rows {
		events[i] = *rows[i].toDomain()
	}
	return events, nil
}

func (r *QuarantineRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM quarantine_events WHERE reviewed_at IS NULL`)
	if err != nil {
		return 0, dbErr("count pending quarantine", err, "quarantine event")
	}
	return n, nil
}

func (r *QuarantineRepository) Review(ctx context.Context, id uuid.UUID, action domain.QuarantineAction, reviewer string, editedData json.RawMessage) (bool, error) {
	// The reviewed_at guard makes the first reviewer win; a second submit
	// affects zero rows.
	res, err := r.db.ExecContext(ctx, `
		UPDATE quarantine_events SET
			reviewed_at = NOW(),
			reviewed_by = $2,
			action_taken = $3,
			edited_data = $4
		WHERE id = $1 AND reviewed_at IS NULL`,
		id, reviewer, action, nullJSON(editedData))
	if err != nil {
		return false, dbErr("review quarantine event", err, "quarantine event")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("review quarantine event", err, "quarantine event")
	}
	return n > 0, nil
}

func (r *QuarantineRepository) Stats(ctx context.Context) (*domain.QuarantineStats, error) {
	var agg struct {
		Pending  int             `db:"pending"`
		Approved int             `db:"approved"`
		Rejected int             `db:"rejected"`
		Edited   int             `db:"edited"`
		AvgConf  sql.NullFloat64 `db:"avg_conf"`
	}
	err := r.db.GetContext(ctx, &agg, `
		SELECT
			COUNT(*) FILTER (WHERE reviewed_at IS NULL) AS pending,
			COUNT(*) FILTER (WHERE action_taken = 'approved') AS approved,
			COUNT(*) FILTER (WHERE action_taken = 'rejected') AS rejected,
			COUNT(*) FILTER (WHERE action_taken = 'edited') AS edited,
			AVG(confidence) FILTER (WHERE reviewed_at IS NULL) AS avg_conf
		FROM quarantine_events`)
	if err != nil {
		return nil, dbErr("quarantine stats", err, "quarantine event")
	}

	stats := &domain.QuarantineStats{
		Pending:              agg.Pending,
		Approved:             agg.Approved,
		Rejected:             agg.Rejected,
		Edited:               agg.Edited,
		AvgPendingConfidence: agg.AvgConf.Float64,
		ByReason:             map[string]int{},
	}

	var reasons []struct {
		Reason string `db:"quarantine_reason"`
		Count  int    `db:"count"`
	}
	err = r.db.SelectContext(ctx, &reasons, `
		SELECT quarantine_reason, COUNT(*) AS count
		FROM quarantine_events
		WHERE reviewed_at IS NULL
		GROUP BY quarantine_reason`)
	if err != nil {
		return nil, dbErr("quarantine stats by reason", err, "quarantine event")
	}
	for _, row := range reasons {
		stats.ByReason[row.Reason] = row.Count
	}
	return stats, nil
}

func (r *QuarantineRepository) DeleteReviewedOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM quarantine_events
		 WHERE reviewed_at IS NOT NULL
		   AND reviewed_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, dbErr("delete reviewed quarantine", err, "quarantine event")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ===== Row mapping =====

type quarantineRow struct {
	ID             uuid.UUID      `db:"id"`
	RawEmailID     uuid.UUID      `db:"raw_email_id"`
	ExtractionData []byte         `db:"extraction_data"`
	Confidence     float64        `db:"confidence"`
	Reason         string         `db:"quarantine_reason"`
	ReviewedAt     sql.NullTime   `db:"reviewed_at"`
	ReviewedBy     sql.NullString `db:"reviewed_by"`
	ActionTaken    sql.NullString `db:"action_taken"`
	EditedData     []byte         `db:"edited_data"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *quarantineRow) toDomain() *domain.QuarantineEvent {
	return &domain.QuarantineEvent{
		ID:             r.ID,
		RawEmailID:     r.RawEmailID,
		ExtractionData: r.ExtractionData,
		Confidence:     r.Confidence,
		Reason:         domain.QuarantineReason(r.Reason),
		ReviewedAt:     r.ReviewedAt.Time,
		ReviewedBy:     r.ReviewedBy.String,
		ActionTaken:    domain.QuarantineAction(r.ActionTaken.String),
		EditedData:     r.EditedData,
		CreatedAt:      r.CreatedAt,
	}
}
