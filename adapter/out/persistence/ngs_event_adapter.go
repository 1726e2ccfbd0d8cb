package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
)

// EventRepository implements out.EventRepository on postgres.
type EventRepository struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) out.EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `
	id, raw_email_id, source_tool, environment, region, host, check_name,
	service, severity, state, occurred_at, normalized_signature,
	fingerprint_v2, payload, tags, is_suppressed, suppression_reason,
	created_at`

func (r *EventRepository) Insert(ctx context.Context, event *domain.AlertEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO alert_events (
			id, raw_email_id, source_tool, environment, region, host,
			check_name, service, severity, state, occurred_at,
			normalized_signature, fingerprint_v2, payload, tags,
			is_suppressed, suppression_reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, nullUUID(event.RawEmailID), event.SourceTool, event.Environment,
		event.Region, event.Host, event.CheckName, event.Service, event.Severity,
		event.State, event.OccurredAt, event.NormalizedSignature, event.FingerprintV2,
		nullJSON(event.Payload), pq.Array(event.Tags), event.IsSuppressed,
		event.SuppressionReason, event.CreatedAt,
	)
	if err != nil {
		return dbErr("insert alert event", err, "alert event")
	}
	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AlertEvent, error) {
	var row eventRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+eventColumns+` FROM alert_events WHERE id = $1`, id)
	if err != nil {
		return nil, dbErr("get alert event", err, "alert event")
	}
	return row.toDomain(), nil
}

func (r *EventRepository) ListByIncident(ctx context.Context, incidentID uuid.UUID, limit int) ([]domain.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+qualify(eventColumns, "e")+`
		 FROM alert_events e
		 JOIN incident_events ie ON ie.alert_event_id = e.id
		 WHERE ie.incident_id = $1
		 ORDER BY e.occurred_at DESC
		 LIMIT $2`, incidentID, limit)
	if err != nil {
		return nil, dbErr("list incident events", err, "alert event")
	}
	events := make([]domain.AlertEvent, len(rows))
	for i := range rows {
		events[i] = *rows[i].toDomain()
	}
	return events, nil
}

// ===== Row mapping =====

type eventRow struct {
	ID                  uuid.UUID      `db:"id"`
	RawEmailID          uuid.NullUUID  `db:"raw_email_id"`
	SourceTool          string         `db:"source_tool"`
	Environment         sql.NullString `db:"environment"`
	Region              sql.NullString `db:"region"`
	Host                string         `db:"host"`
	CheckName           sql.NullString `db:"check_name"`
	Service             sql.NullString `db:"service"`
	Severity            string         `db:"severity"`
	State               string         `db:"state"`
	OccurredAt          time.Time      `db:"occurred_at"`
	NormalizedSignature string         `db:"normalized_signature"`
	FingerprintV2       string         `db:"fingerprint_v2"`
	Payload             []byte         `db:"payload"`
	Tags                pq.StringArray `db:"tags"`
	IsSuppressed        bool           `db:"is_suppressed"`
	SuppressionReason   sql.NullString `db:"suppression_reason"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (r *eventRow) toDomain() *domain.AlertEvent {
	return &domain.AlertEvent{
		ID:                  r.ID,
		RawEmailID:          r.RawEmailID.UUID,
		SourceTool:          r.SourceTool,
		Environment:         r.Environment.String,
		Region:              r.Region.String,
		Host:                r.Host,
		CheckName:           r.CheckName.String,
		Service:             r.Service.String,
		Severity:            domain.Severity(r.Severity),
		State:               domain.EventState(r.State),
		OccurredAt:          r.OccurredAt,
		NormalizedSignature: r.NormalizedSignature,
		FingerprintV2:       r.FingerprintV2,
		Payload:             r.Payload,
		Tags:                r.Tags,
		IsSuppressed:        r.IsSuppressed,
		SuppressionReason:   r.SuppressionReason.String,
		CreatedAt:           r.CreatedAt,
	}
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
