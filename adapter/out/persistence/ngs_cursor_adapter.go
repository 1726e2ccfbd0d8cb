package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
)

// CursorRepository implements out.CursorRepository on postgres.
type CursorRepository struct {
	db *sqlx.DB
}

func NewCursorRepository(db *sqlx.DB) out.CursorRepository {
	return &CursorRepository{db: db}
}

const cursorColumns = `
	folder, last_uid, last_poll_at, last_success_at, last_error,
	error_count, emails_processed, updated_at`

func (r *CursorRepository) Get(ctx context.Context, folder string) (*domain.FolderCursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+cursorColumns+` FROM folder_cursors WHERE folder = $1`, folder)
	if err != nil {
		return nil, dbErr("get folder cursor", err, "folder cursor")
	}
	return row.toDomain(), nil
}

func (r *CursorRepository) Advance(ctx context.Context, folder string, lastUID int64, processed int) error {
	// GREATEST keeps the cursor monotonic even if a slow poll commits
	// after a newer one.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO folder_cursors (
			folder, last_uid, last_poll_at, last_success_at, last_error,
			error_count, emails_processed, updated_at
		) VALUES ($1, $2, NOW(), NOW(), NULL, 0, $3, NOW())
		ON CONFLICT (folder) DO UPDATE SET
			last_uid = GREATEST(folder_cursors.last_uid, EXCLUDED.last_uid),
			last_poll_at = NOW(),
			last_success_at = NOW(),
			last_error = NULL,
			error_count = 0,
			emails_processed = folder_cursors.emails_processed + $3,
			updated_at = NOW()`,
		folder, lastUID, processed)
	if err != nil {
		return dbErr("advance folder cursor", err, "folder cursor")
	}
	return nil
}

func (r *CursorRepository) RecordError(ctx context.Context, folder string, errText string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO folder_cursors (
			folder, last_uid, last_poll_at, last_error, error_count,
			emails_processed, updated_at
		) VALUES ($1, 0, NOW(), $2, 1, 0, NOW())
		ON CONFLICT (folder) DO UPDATE SET
			last_poll_at = NOW(),
			last_error = $2,
			error_count = folder_cursors.error_count + 1,
			updated_at = NOW()`,
		folder, errText)
	if err != nil {
		return dbErr("record folder cursor error", err, "folder cursor")
	}
	return nil
}

func (r *CursorRepository) List(ctx context.Context) ([]domain.FolderCursor, error) {
	var rows []cursorRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+cursorColumns+` FROM folder_cursors ORDER BY folder`)
	if err != nil {
		return nil, dbErr("list folder cursors", err, "folder cursor")
	}
	cursors := make([]domain.FolderCursor, len(rows))
	for i := range rows {
		cursors[i] = *rows[i].toDomain()
	}
	return cursors, nil
}

// ===== Row mapping =====

type cursorRow struct {
	Folder          string         `db:"folder"`
	LastUID         int64          `db:"last_uid"`
	LastPollAt      sql.NullTime   `db:"last_poll_at"`
	LastSuccessAt   sql.NullTime   `db:"last_success_at"`
	LastError       sql.NullString `db:"last_error"`
	ErrorCount      int            `db:"error_count"`
	EmailsProcessed int64          `db:"emails_processed"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *cursorRow) toDomain() *domain.FolderCursor {
	return &domain.FolderCursor{
		Folder:          r.Folder,
		LastUID:         r.LastUID,
		LastPollAt:      r.LastPollAt.Time,
		LastSuccessAt:   r.LastSuccessAt.Time,
		LastError:       r.LastError.String,
		ErrorCount:      r.ErrorCount,
		EmailsProcessed: r.EmailsProcessed,
		UpdatedAt:       r.UpdatedAt,
	}
}
