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

// MaintenanceRepository implements out.MaintenanceRepository on postgres.
type MaintenanceRepository struct {
	db *sqlx.DB
}

func NewMaintenanceRepository(db *sqlx.DB) out.MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

const windowColumns = `
	id, source, external_event_id, title, organizer, starts_at, ends_at,
	timezone, scope, suppress_mode, is_active, is_recurring,
	recurrence_rule, created_from_email_id, created_at, updated_at`

func (r *MaintenanceRepository) Upsert(ctx context.Context, w *domain.MaintenanceWindow) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	scope, _ := json.Marshal(w.Scope)

	if w.ExternalEventID == "" {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO maintenance_windows (
				id, source, external_event_id, title, organizer, starts_at,
				ends_at, timezone, scope, suppress_mode, is_active,
				is_recurring, recurrence_rule, created_from_email_id,
				created_at, updated_at
			) VALUES ($1,$2,NULL,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			w.ID, w.Source, w.Title, w.Organizer, w.StartsAt, w.EndsAt,
			w.Timezone, scope, w.SuppressMode, w.IsActive, w.IsRecurring,
			w.RecurrenceRule, nullUUID(w.CreatedFromEmailID), w.CreatedAt, w.UpdatedAt)
		if err != nil {
			return dbErr("insert maintenance window", err, "maintenance window")
		}
		return nil
	}

	// Calendar updates reuse the external event ID, so a second VEVENT for
	// the same meeting revises the stored window in place.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO maintenance_windows (
			id, source, external_event_id, title, organizer, starts_at,
			ends_at, timezone, scope, suppress_mode, is_active, is_recurring,
			recurrence_rule, created_from_email_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (source, external_event_id) WHERE external_event_id IS NOT NULL
		DO UPDATE SET
			title = EXCLUDED.title,
			organizer = EXCLUDED.organizer,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			timezone = EXCLUDED.timezone,
			scope = EXCLUDED.scope,
			suppress_mode = EXCLUDED.suppress_mode,
			is_active = EXCLUDED.is_active,
			is_recurring = EXCLUDED.is_recurring,
			recurrence_rule = EXCLUDED.recurrence_rule,
			updated_at = EXCLUDED.updated_at`,
		w.ID, w.Source, w.ExternalEventID, w.Title, w.Organizer, w.StartsAt,
		w.EndsAt, w.Timezone, scope, w.SuppressMode, w.IsActive, w.IsRecurring,
		w.RecurrenceRule, nullUUID(w.CreatedFromEmailID), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return dbErr("upsert maintenance window", err, "maintenance window")
	}
	return nil
}

func (r *MaintenanceRepository) Update(ctx context.Context, w *domain.MaintenanceWindow) error {
	w.UpdatedAt = time.Now().UTC()
	scope, _ := json.Marshal(w.Scope)

	res, err := r.db.ExecContext(ctx, `
		UPDATE maintenance_windows SET
			title = $2, organizer = $3, starts_at = $4, ends_at = $5,
			timezone = $6, scope = $7, suppress_mode = $8, is_active = $9,
			is_recurring = $10, recurrence_rule = $11, updated_at = $12
		WHERE id = $1`,
		w.ID, w.Title, w.Organizer, w.StartsAt, w.EndsAt, w.Timezone, scope,
		w.SuppressMode, w.IsActive, w.IsRecurring, w.RecurrenceRule, w.UpdatedAt)
	if err != nil {
		return dbErr("update maintenance window", err, "maintenance window")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dbErr("update maintenance window", sql.ErrNoRows, "maintenance window")
	}
	return nil
}

func (r *MaintenanceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM maintenance_windows WHERE id = $1`, id)
	if err != nil {
		return dbErr("delete maintenance window", err, "maintenance window")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dbErr("delete maintenance window", sql.ErrNoRows, "maintenance window")
	}
	return nil
}

func (r *MaintenanceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MaintenanceWindow, error) {
	var row windowRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+windowColumns+` FROM maintenance_windows WHERE id = $1`, id)
	if err != nil {
		return nil, dbErr("get maintenance window", err, "maintenance window")
	}
	return row.toDomain(), nil
}

func (r *MaintenanceRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.MaintenanceWindow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + windowColumns + ` FROM maintenance_windows`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY starts_at DESC LIMIT $1 OFFSET $2`

	var rows []windowRow
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, dbErr("list maintenance windows", err, "maintenance window")
	}
	return windowRowsToDomain(rows), nil
}

func (r *MaintenanceRepository) ListActiveAt(ctx context.Context, t time.Time) ([]domain.MaintenanceWindow, error) {
	// Recurring windows are included whenever active; occurrence expansion
	// against the stored rule happens in the matcher.
	var rows []windowRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+windowColumns+`
		 FROM maintenance_windows
		 WHERE is_active
		   AND (is_recurring OR (starts_at <= $1 AND ends_at > $1))
		 ORDER BY starts_at`, t)
	if err != nil {
		return nil, dbErr("list active maintenance windows", err, "maintenance window")
	}
	return windowRowsToDomain(rows), nil
}

func (r *MaintenanceRepository) DeactivateByExternalID(ctx context.Context, source domain.WindowSource, externalID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE maintenance_windows SET is_active = FALSE, updated_at = NOW()
		 WHERE source = $1 AND external_event_id = $2`,
		source, externalID)
	if err != nil {
		return dbErr("deactivate maintenance window", err, "maintenance window")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dbErr("deactivate maintenance window", sql.ErrNoRows, "maintenance window")
	}
	return nil
}

func (r *MaintenanceRepository) InsertMatch(ctx context.Context, m *domain.MaintenanceMatch) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO maintenance_matches (id, window_id, incident_id, alert_event_id, match_reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.WindowID, nullUUID(m.IncidentID), nullUUID(m.AlertEventID),
		nullJSON(m.MatchReason), m.CreatedAt)
	if err != nil {
		return dbErr("insert maintenance match", err, "maintenance match")
	}
	return nil
}

// ===== Row mapping =====

type windowRow struct {
	ID                 uuid.UUID      `db:"id"`
	Source             string         `db:"source"`
	ExternalEventID    sql.NullString `db:"external_event_id"`
	Title              string         `db:"title"`
	Organizer          sql.NullString `db:"organizer"`
	StartsAt           time.Time      `db:"starts_at"`
	EndsAt             time.Time      `db:"ends_at"`
	Timezone           sql.NullString `db:"timezone"`
	Scope              []byte         `db:"scope"`
	SuppressMode       string         `db:"suppress_mode"`
	IsActive           bool           `db:"is_active"`
	IsRecurring        bool           `db:"is_recurring"`
	RecurrenceRule     sql.NullString `db:"recurrence_rule"`
	CreatedFromEmailID uuid.NullUUID  `db:"created_from_email_id"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *windowRow) toDomain() *domain.MaintenanceWindow {
	w := &domain.MaintenanceWindow{
		ID:                 r.ID,
		Source:             domain.WindowSource(r.Source),
		ExternalEventID:    r.ExternalEventID.String,
		Title:              r.Title,
		Organizer:          r.Organizer.String,
		StartsAt:           r.StartsAt,
		EndsAt:             r.EndsAt,
		Timezone:           r.Timezone.String,
		SuppressMode:       domain.SuppressMode(r.SuppressMode),
		IsActive:           r.IsActive,
		IsRecurring:        r.IsRecurring,
		RecurrenceRule:     r.RecurrenceRule.String,
		CreatedFromEmailID: r.CreatedFromEmailID.UUID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if len(r.Scope) > 0 {
		json.Unmarshal(r.Scope, &w.Scope)
	}
	return w
}

func windowRowsToDomain(rows []windowRow) []domain.MaintenanceWindow {
	windows := make([]domain.MaintenanceWindow, len(rows))
	for i := range rows {
		windows[i] = *rows[i].toDomain()
	}
	return windows
}
