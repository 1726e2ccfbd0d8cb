package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// EmailRepository implements out.EmailRepository on postgres.
type EmailRepository struct {
	db *sqlx.DB
}

func NewEmailRepository(db *sqlx.DB) out.EmailRepository {
	return &EmailRepository{db: db}
}

const emailColumns = `
	id, folder, uid, message_id, subject, from_address, to_addresses,
	date_header, headers, body_text, body_html, ics_payload, attachments,
	received_at, parse_status, parse_error, processed_at, created_at`

func (r *EmailRepository) Insert(ctx context.Context, email *domain.RawEmail) (bool, error) {
	if email.CreatedAt.IsZero() {
		email.CreatedAt = time.Now().UTC()
	}
	headers, _ := json.Marshal(email.Headers)
	attachments, _ := json.Marshal(email.Attachments)

	query := `
		INSERT INTO raw_emails (
			id, folder, uid, message_id, subject, from_address, to_addresses,
			date_header, headers, body_text, body_html, ics_payload, attachments,
			received_at, parse_status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (folder, uid) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		email.ID, email.Folder, email.UID, email.MessageID, email.Subject,
		email.FromAddress, pq.Array(email.ToAddresses), nullTime(email.DateHeader),
		headers, email.BodyText, email.BodyHTML, email.ICSPayload, attachments,
		email.ReceivedAt, email.ParseStatus, email.CreatedAt,
	)
	if err != nil {
		return false, dbErr("insert raw email", err, "raw email")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("insert raw email", err, "raw email")
	}
	return n > 0, nil
}

func (r *EmailRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.RawEmail, error) {
	var row emailRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+emailColumns+` FROM raw_emails WHERE id = $1`, id)
	if err != nil {
		return nil, dbErr("get raw email", err, "raw email")
	}
	return row.toDomain(), nil
}

func (r *EmailRepository) UpdateParseStatus(ctx context.Context, id uuid.UUID, status domain.ParseStatus, parseError string) error {
	var current domain.ParseStatus
	if err := r.db.GetContext(ctx, &current,
		`SELECT parse_status FROM raw_emails WHERE id = $1`, id); err != nil {
		return dbErr("get parse status", err, "raw email")
	}
	if !current.CanTransitionTo(status) {
		return apperr.Conflict("parse status " + string(current) + " cannot move to " + string(status))
	}

	query := `
		UPDATE raw_emails SET
			parse_status = $2,
			parse_error = $3,
			processed_at = CASE WHEN $2 IN ('parsed','failed','rejected') THEN NOW() ELSE NULL END
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, parseError); err != nil {
		return dbErr("update parse status", err, "raw email")
	}
	return nil
}

func (r *EmailRepository) ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]domain.RawEmail, error) {
	var rows []emailRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+emailColumns+`
		 FROM raw_emails
		 WHERE parse_status = 'pending' AND received_at < NOW() - make_interval(secs => $1)
		 ORDER BY received_at
		 LIMIT $2`,
		age.Seconds(), limit)
	if err != nil {
		return nil, dbErr("list pending emails", err, "raw email")
	}
	return emailRowsToDomain(rows), nil
}

func (r *EmailRepository) PurgeBodiesOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE raw_emails
		 SET body_text = '', body_html = '', ics_payload = ''
		 FROM (SELECT id FROM raw_emails
		       WHERE parse_status IN ('parsed','failed','rejected')
		         AND received_at < NOW() - make_interval(days => $1)
		         AND body_text <> ''
		       LIMIT 5000) old
		 WHERE raw_emails.id = old.id`, days)
	if err != nil {
		return 0, dbErr("purge email bodies", err, "raw email")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ===== Row mapping =====

type emailRow struct {
	ID          uuid.UUID      `db:"id"`
	Folder      string         `db:"folder"`
	UID         int64          `db:"uid"`
	MessageID   string         `db:"message_id"`
	Subject     string         `db:"subject"`
	FromAddress string         `db:"from_address"`
	ToAddresses pq.StringArray `db:"to_addresses"`
	DateHeader  sql.NullTime   `db:"date_header"`
	Headers     []byte         `db:"headers"`
	BodyText    string         `db:"body_text"`
	BodyHTML    string         `db:"body_html"`
	ICSPayload  string         `db:"ics_payload"`
	Attachments []byte         `db:"attachments"`
	ReceivedAt  time.Time      `db:"received_at"`
	ParseStatus string         `db:"parse_status"`
	ParseError  sql.NullString `db:"parse_error"`
	ProcessedAt sql.NullTime   `db:"processed_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *emailRow) toDomain() *domain.RawEmail {
	email := &domain.RawEmail{
		ID:          r.ID,
		Folder:      r.Folder,
		UID:         r.UID,
		MessageID:   r.MessageID,
		Subject:     r.Subject,
		FromAddress: r.FromAddress,
		ToAddresses: r.ToAddresses,
		BodyText:    r.BodyText,
		BodyHTML:    r.BodyHTML,
		ICSPayload:  r.ICSPayload,
		ReceivedAt:  r.ReceivedAt,
		ParseStatus: domain.ParseStatus(r.ParseStatus),
		ParseError:  r.ParseError.String,
		CreatedAt:   r.CreatedAt,
	}
	if r.DateHeader.Valid {
		email.DateHeader = r.DateHeader.Time
	}
	if r.ProcessedAt.Valid {
		email.ProcessedAt = r.ProcessedAt.Time
	}
	if len(r.Headers) > 0 {
		json.Unmarshal(r.Headers, &email.Headers)
	}
	if len(r.Attachments) > 0 {
		json.Unmarshal(r.Attachments, &email.Attachments)
	}
	return email
}

func emailRowsToDomain(rows []emailRow) []domain.RawEmail {
	emails := make([]domain.RawEmail, len(rows))
	for i := range rows {
		emails[i] = *rows[i].toDomain()
	}
	return emails
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
