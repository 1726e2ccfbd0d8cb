package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
)

// IncidentRepository implements out.IncidentRepository on postgres.
// Single-event mutations run under a transaction-scoped advisory lock
// keyed on the fingerprint, so concurrent workers serialize per
// fingerprint instead of per table.
type IncidentRepository struct {
	db *sqlx.DB
}

func NewIncidentRepository(db *sqlx.DB) out.IncidentRepository {
	return &IncidentRepository{db: db}
}

const incidentColumns = `
	id, fingerprint_v2, title, source_tool, environment, region, host,
	check_name, service, status, severity_current, severity_max, last_state,
	first_seen_at, last_seen_at, last_firing_at, resolved_at,
	resolution_reason, event_count, flap_count, is_flapping,
	last_state_change_at, is_in_maintenance, maintenance_window_id,
	ai_summary, ai_suggestion, created_at, updated_at`

func (r *IncidentRepository) WithFingerprintLock(ctx context.Context, fingerprint string, fn func(ctx context.Context, tx out.IncidentTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr("begin incident tx", err, "incident")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, fingerprint); err != nil {
		return dbErr("acquire fingerprint lock", err, "incident")
	}
	if err := fn(ctx, &incidentTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit incident tx", err, "incident")
	}
	return nil
}

func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	var row incidentRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	if err != nil {
		return nil, dbErr("get incident", err, "incident")
	}
	return row.toDomain(), nil
}

func (r *IncidentRepository) List(ctx context.Context, status domain.IncidentStatus, severity domain.Severity, limit, offset int) ([]domain.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += ` AND status = $` + itoa(len(args))
	}
	if severity != "" {
		args = append(args, severity)
		query += ` AND severity_current = $` + itoa(len(args))
	}
	args = append(args, limit, offset)
	query += ` ORDER BY last_seen_at DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	var rows []incidentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dbErr("list incidents", err, "incident")
	}
	return incidentRowsToDomain(rows), nil
}

func (r *IncidentRepository) AutoResolveStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET
			status = 'resolved',
			resolved_at = NOW(),
			resolution_reason = 'silence_timeout',
			updated_at = NOW()
		 WHERE status IN ('open','acknowledged')
		   AND last_seen_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, dbErr("auto-resolve stale incidents", err, "incident")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *IncidentRepository) ResolveQuiescent(ctx context.Context, quietPeriod time.Duration) (int64, error) {
	// last_firing_at guards against a flap arriving during the quiet
	// period, which moves the incident back to open before this runs.
	res, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET
			status = 'resolved',
			resolved_at = NOW(),
			resolution_reason = 'explicit_clear',
			updated_at = NOW()
		 WHERE status = 'resolving'
		   AND (last_firing_at IS NULL OR last_firing_at < NOW() - make_interval(secs => $1))`,
		quietPeriod.Seconds())
	if err != nil {
		return 0, dbErr("resolve quiescent incidents", err, "incident")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *IncidentRepository) ListLive(ctx context.Context) ([]domain.Incident, error) {
	var rows []incidentRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+incidentColumns+`
		 FROM incidents
		 WHERE status IN ('open','acknowledged','resolving')
		 ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, dbErr("list live incidents", err, "incident")
	}
	return incidentRowsToDomain(rows), nil
}

func (r *IncidentRepository) SetMaintenance(ctx context.Context, incidentID, windowID uuid.UUID, inMaintenance bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET
			is_in_maintenance = $2,
			maintenance_window_id = $3,
			updated_at = NOW()
		 WHERE id = $1`,
		incidentID, inMaintenance, nullUUID(windowID))
	if err != nil {
		return dbErr("set incident maintenance", err, "incident")
	}
	return nil
}

func (r *IncidentRepository) ClearExpiredMaintenance(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE incidents i SET
			is_in_maintenance = FALSE,
			maintenance_window_id = NULL,
			updated_at = NOW()
		 WHERE i.is_in_maintenance
		   AND NOT EXISTS (
			SELECT 1 FROM maintenance_windows w
			WHERE w.id = i.maintenance_window_id
			  AND w.is_active
			  AND w.starts_at <= $1 AND w.ends_at > $1)`,
		now)
	if err != nil {
		return 0, dbErr("clear expired maintenance", err, "incident")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ===== Transactional view =====

type incidentTx struct {
	tx *sqlx.Tx
}

func (t *incidentTx) GetLive(ctx context.Context, fingerprint string) (*domain.Incident, error) {
	var row incidentRow
	err := t.tx.GetContext(ctx, &row,
		`SELECT `+incidentColumns+`
		 FROM incidents
		 WHERE fingerprint_v2 = $1 AND status IN ('open','acknowledged','resolving')
		 ORDER BY created_at DESC
		 LIMIT 1`, fingerprint)
	if err != nil {
		return nil, dbErr("get live incident", err, "incident")
	}
	return row.toDomain(), nil
}

func (t *incidentTx) Insert(ctx context.Context, incident *domain.Incident) error {
	now := time.Now().UTC()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = now
	}
	incident.UpdatedAt = now

	query := `
		INSERT INTO incidents (
			id, fingerprint_v2, title, source_tool, environment, region, host,
			check_name, service, status, severity_current, severity_max,
			last_state, first_seen_at, last_seen_at, last_firing_at,
			resolved_at, resolution_reason, event_count, flap_count,
			is_flapping, last_state_change_at, is_in_maintenance,
			maintenance_window_id, ai_summary, ai_suggestion, created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
			$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`

	_, err := t.tx.ExecContext(ctx, query,
		incident.ID, incident.FingerprintV2, incident.Title, incident.SourceTool,
		incident.Environment, incident.Region, incident.Host, incident.CheckName,
		incident.Service, incident.Status, incident.SeverityCurrent,
		incident.SeverityMax, incident.LastState, incident.FirstSeenAt,
		incident.LastSeenAt, nullTime(incident.LastFiringAt),
		nullTime(incident.ResolvedAt), nullString(string(incident.ResolutionReason)),
		incident.EventCount, incident.FlapCount, incident.IsFlapping,
		nullTime(incident.LastStateChangeAt), incident.IsInMaintenance,
		nullUUID(incident.MaintenanceWindowID), incident.AISummary,
		incident.AISuggestion, incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		return dbErr("insert incident", err, "incident")
	}
	return nil
}

func (t *incidentTx) Update(ctx context.Context, incident *domain.Incident) error {
	incident.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE incidents SET
			title = $2, status = $3, severity_current = $4, severity_max = $5,
			last_state = $6, last_seen_at = $7, last_firing_at = $8,
			resolved_at = $9, resolution_reason = $10, event_count = $11,
			flap_count = $12, is_flapping = $13, last_state_change_at = $14,
			is_in_maintenance = $15, maintenance_window_id = $16,
			ai_summary = $17, ai_suggestion = $18, updated_at = $19
		WHERE id = $1`

	_, err := t.tx.ExecContext(ctx, query,
		incident.ID, incident.Title, incident.Status, incident.SeverityCurrent,
		incident.SeverityMax, incident.LastState, incident.LastSeenAt,
		nullTime(incident.LastFiringAt), nullTime(incident.ResolvedAt),
		nullString(string(incident.ResolutionReason)), incident.EventCount,
		incident.FlapCount, incident.IsFlapping,
		nullTime(incident.LastStateChangeAt), incident.IsInMaintenance,
		nullUUID(incident.MaintenanceWindowID), incident.AISummary,
		incident.AISuggestion, incident.UpdatedAt,
	)
	if err != nil {
		return dbErr("update incident", err, "incident")
	}
	return nil
}

func (t *incidentTx) LinkEvent(ctx context.Context, link *domain.IncidentEvent) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO incident_events (id, incident_id, alert_event_id, is_deduplicated, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		link.ID, link.IncidentID, link.AlertEventID, link.IsDeduplicated, link.CreatedAt)
	if err != nil {
		return dbErr("link incident event", err, "incident event")
	}
	return nil
}

func (t *incidentTx) LastLinkedEvent(ctx context.Context, incidentID uuid.UUID) (*domain.AlertEvent, error) {
	var row eventRow
	err := t.tx.GetContext(ctx, &row,
		`SELECT `+qualify(eventColumns, "e")+`
		 FROM alert_events e
		 JOIN incident_events ie ON ie.alert_event_id = e.id
		 WHERE ie.incident_id = $1
		 ORDER BY ie.created_at DESC
		 LIMIT 1`, incidentID)
	if err != nil {
		if errNoRows(err) {
			return nil, nil
		}
		return nil, dbErr("get last linked event", err, "alert event")
	}
	return row.toDomain(), nil
}

func (t *incidentTx) LatestOccurredAt(ctx context.Context, incidentID uuid.UUID) (time.Time, error) {
	var latest sql.NullTime
	err := t.tx.GetContext(ctx, &latest,
		`SELECT MAX(e.occurred_at)
		 FROM alert_events e
		 JOIN incident_events ie ON ie.alert_event_id = e.id
		 WHERE ie.incident_id = $1`, incidentID)
	if err != nil {
		return time.Time{}, dbErr("get latest occurred_at", err, "incident event")
	}
	return latest.Time, nil
}

// ===== Row mapping =====

type incidentRow struct {
	ID                  uuid.UUID      `db:"id"`
	FingerprintV2       string         `db:"fingerprint_v2"`
	Title               string         `db:"title"`
	SourceTool          string         `db:"source_tool"`
	Environment         sql.NullString `db:"environment"`
	Region              sql.NullString `db:"region"`
	Host                string         `db:"host"`
	CheckName           sql.NullString `db:"check_name"`
	Service             sql.NullString `db:"service"`
	Status              string         `db:"status"`
	SeverityCurrent     string         `db:"severity_current"`
	SeverityMax         string         `db:"severity_max"`
	LastState           string         `db:"last_state"`
	FirstSeenAt         time.Time      `db:"first_seen_at"`
	LastSeenAt          time.Time      `db:"last_seen_at"`
	LastFiringAt        sql.NullTime   `db:"last_firing_at"`
	ResolvedAt          sql.NullTime   `db:"resolved_at"`
	ResolutionReason    sql.NullString `db:"resolution_reason"`
	EventCount          int            `db:"event_count"`
	FlapCount           int            `db:"flap_count"`
	IsFlapping          bool           `db:"is_flapping"`
	LastStateChangeAt   sql.NullTime   `db:"last_state_change_at"`
	IsInMaintenance     bool           `db:"is_in_maintenance"`
	MaintenanceWindowID uuid.NullUUID  `db:"maintenance_window_id"`
	AISummary           sql.NullString `db:"ai_summary"`
	AISuggestion        sql.NullString `db:"ai_suggestion"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r *incidentRow) toDomain() *domain.Incident {
	return &domain.Incident{
		ID:                  r.ID,
		FingerprintV2:       r.FingerprintV2,
		Title:               r.Title,
		SourceTool:          r.SourceTool,
		Environment:         r.Environment.String,
		Region:              r.Region.String,
		Host:                r.Host,
		CheckName:           r.CheckName.String,
		Service:             r.Service.String,
		Status:              domain.IncidentStatus(r.Status),
		SeverityCurrent:     domain.Severity(r.SeverityCurrent),
		SeverityMax:         domain.Severity(r.SeverityMax),
		LastState:           domain.EventState(r.LastState),
		FirstSeenAt:         r.FirstSeenAt,
		LastSeenAt:          r.LastSeenAt,
		LastFiringAt:        r.LastFiringAt.Time,
		ResolvedAt:          r.ResolvedAt.Time,
		ResolutionReason:    domain.ResolutionReason(r.ResolutionReason.String),
		EventCount:          r.EventCount,
		FlapCount:           r.FlapCount,
		IsFlapping:          r.IsFlapping,
		LastStateChangeAt:   r.LastStateChangeAt.Time,
		IsInMaintenance:     r.IsInMaintenance,
		MaintenanceWindowID: r.MaintenanceWindowID.UUID,
		AISummary:           r.AISummary.String,
		AISuggestion:        r.AISuggestion.String,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func incidentRowsToDomain(rows []incidentRow) []domain.Incident {
	incidents := make([]domain.Incident, len(rows))
	for i := range rows {
		incidents[i] = *rows[i].toDomain()
	}
	return incidents
}
