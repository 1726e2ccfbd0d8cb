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
)

// PatternRepository implements out.PatternRepository on postgres.
type PatternRepository struct {
	db *sqlx.DB
}

func NewPatternRepository(db *sqlx.DB) out.PatternRepository {
	return &PatternRepository{db: db}
}

const patternColumns = `
	id, signature_hash, from_domain, subject_prefix, body_markers,
	source_name, rules, match_count, success_rate, is_approved,
	last_matched_at, created_from_email_id, created_at, updated_at`

func (r *PatternRepository) GetBySignature(ctx context.Context, signatureHash string) (*domain.PatternCache, error) {
	var row patternRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+patternColumns+` FROM pattern_cache WHERE signature_hash = $1`, signatureHash)
	if err != nil {
		return nil, dbErr("get pattern by signature", err, "pattern")
	}
	return row.toDomain(), nil
}

func (r *PatternRepository) Insert(ctx context.Context, p *domain.PatternCache) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	rules, _ := json.Marshal(p.Rules)

	// Two workers can learn the same format concurrently; the first write
	// wins and the loser's rules are discarded.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pattern_cache (
			id, signature_hash, from_domain, subject_prefix, body_markers,
			source_name, rules, match_count, success_rate, is_approved,
			last_matched_at, created_from_email_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (signature_hash) DO NOTHING`,
		p.ID, p.SignatureHash, p.FromDomain, p.SubjectPrefix,
		pq.Array(p.BodyMarkers), p.SourceName, rules, p.MatchCount,
		p.SuccessRate, p.IsApproved, nullTime(p.LastMatchedAt),
		nullUUID(p.CreatedFromEmailID), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return dbErr("insert pattern", err, "pattern")
	}
	return nil
}

func (r *PatternRepository) RecordOutcome(ctx context.Context, id uuid.UUID, success bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr("begin pattern tx", err, "pattern")
	}
	defer tx.Rollback()

	var row struct {
		MatchCount  int     `db:"match_count"`
		SuccessRate float64 `db:"success_rate"`
	}
	if err := tx.GetContext(ctx, &row,
		`SELECT match_count, success_rate FROM pattern_cache WHERE id = $1 FOR UPDATE`, id); err != nil {
		return dbErr("lock pattern row", err, "pattern")
	}

	p := domain.PatternCache{MatchCount: row.MatchCount, SuccessRate: row.SuccessRate}
	p.ObserveOutcome(success)

	if _, err := tx.ExecContext(ctx,
		`UPDATE pattern_cache SET
			match_count = $2,
			success_rate = $3,
			last_matched_at = CASE WHEN $4 THEN NOW() ELSE last_matched_at END,
			updated_at = NOW()
		 WHERE id = $1`, id, p.MatchCount, p.SuccessRate, success); err != nil {
		return dbErr("record pattern outcome", err, "pattern")
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit pattern tx", err, "pattern")
	}
	return nil
}

func (r *PatternRepository) InsertLog(ctx context.Context, log *domain.PatternExtractionLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pattern_extraction_log (
			id, raw_email_id, pattern_cache_id, extraction_type, extracted,
			confidence, succeeded, error, duration_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		log.ID, log.RawEmailID, nullUUID(log.PatternCacheID), log.ExtractionType,
		nullJSON(log.Extracted), log.Confidence, log.Succeeded,
		nullString(log.Error), log.DurationMs, log.CreatedAt)
	if err != nil {
		return dbErr("insert extraction log", err, "extraction log")
	}
	return nil
}

// ===== Row mapping =====

type patternRow struct {
	ID                 uuid.UUID      `db:"id"`
	SignatureHash      string         `db:"signature_hash"`
	FromDomain         string         `db:"from_domain"`
	SubjectPrefix      sql.NullString `db:"subject_prefix"`
	BodyMarkers        pq.StringArray `db:"body_markers"`
	SourceName         sql.NullString `db:"source_name"`
	Rules              []byte         `db:"rules"`
	MatchCount         int            `db:"match_count"`
	SuccessRate        float64        `db:"success_rate"`
	IsApproved         bool           `db:"is_approved"`
	LastMatchedAt      sql.NullTime   `db:"last_matched_at"`
	CreatedFromEmailID uuid.NullUUID  `db:"created_from_email_id"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *patternRow) toDomain() *domain.PatternCache {
	p := &domain.PatternCache{
		ID:                 r.ID,
		SignatureHash:      r.SignatureHash,
		FromDomain:         r.FromDomain,
		SubjectPrefix:      r.SubjectPrefix.String,
		BodyMarkers:        r.BodyMarkers,
		SourceName:         r.SourceName.String,
		MatchCount:         r.MatchCount,
		SuccessRate:        r.SuccessRate,
		IsApproved:         r.IsApproved,
		LastMatchedAt:      r.LastMatchedAt.Time,
		CreatedFromEmailID: r.CreatedFromEmailID.UUID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if len(r.Rules) > 0 {
		json.Unmarshal(r.Rules, &p.Rules)
	}
	return p
}
