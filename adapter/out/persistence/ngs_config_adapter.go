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

// ConfigRepository implements out.ConfigRepository on postgres.
type ConfigRepository struct {
	db *sqlx.DB
}

func NewConfigRepository(db *sqlx.DB) out.ConfigRepository {
	return &ConfigRepository{db: db}
}

const configColumns = `id, version, payload, is_active, created_at, activated_at`

func (r *ConfigRepository) InsertVersion(ctx context.Context, payload json.RawMessage) (*domain.ConfigVersion, error) {
	v := &domain.ConfigVersion{
		ID:        uuid.New(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	// Version numbers are dense per table, so the max+1 subquery runs in
	// the same statement to stay race-safe under the unique index.
	err := r.db.GetContext(ctx, &v.Version, `
		INSERT INTO config_versions (id, version, payload, is_active, created_at)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM config_versions), $2, FALSE, $3)
		RETURNING version`,
		v.ID, []byte(payload), v.CreatedAt)
	if err != nil {
		return nil, dbErr("insert config version", err, "config version")
	}
	return v, nil
}

func (r *ConfigRepository) Activate(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr("begin config tx", err, "config version")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE config_versions SET is_active = FALSE WHERE is_active`); err != nil {
		return dbErr("deactivate config versions", err, "config version")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE config_versions SET is_active = TRUE, activated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return dbErr("activate config version", err, "config version")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dbErr("activate config version", sql.ErrNoRows, "config version")
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit config tx", err, "config version")
	}
	return nil
}

func (r *ConfigRepository) GetActive(ctx context.Context) (*domain.ConfigVersion, error) {
	var row configRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+configColumns+` FROM config_versions WHERE is_active LIMIT 1`)
	if err != nil {
		return nil, dbErr("get active config version", err, "config version")
	}
	return row.toDomain(), nil
}

func (r *ConfigRepository) List(ctx context.Context, limit int) ([]domain.ConfigVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []configRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+configColumns+` FROM config_versions ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, dbErr("list config versions", err, "config version")
	}
	versions := make([]domain.ConfigVersion, len(rows))
	for i := range rows {
		versions[i] = *rows[i].toDomain()
	}
	return versions, nil
}

// ===== Row mapping =====

type configRow struct {
	ID          uuid.UUID    `db:"id"`
	Version     int          `db:"version"`
	Payload     []byte       `db:"payload"`
	IsActive    bool         `db:"is_active"`
	CreatedAt   time.Time    `db:"created_at"`
	ActivatedAt sql.NullTime `db:"activated_at"`
}

func (r *configRow) toDomain() *domain.ConfigVersion {
	return &domain.ConfigVersion{
		ID:          r.ID,
		Version:     r.Version,
		Payload:     r.Payload,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		ActivatedAt: r.ActivatedAt.Time,
	}
}
