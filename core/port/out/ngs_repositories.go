package out

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
)

// EmailRepository stores immutable raw mail and its parse status.
type EmailRepository interface {
	// Insert upserts on (folder, uid) with DO NOTHING semantics and
	// reports whether a new row was created.
	Insert(ctx context.Context, email *domain.RawEmail) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RawEmail, error)
	// UpdateParseStatus advances parse status and records the error text;
	// processed_at is stamped for terminal statuses.
	UpdateParseStatus(ctx context.Context, id uuid.UUID, status domain.ParseStatus, parseError string) error
	// ListPendingOlderThan returns emails stuck in pending, for the
	// reprocess sweeper.
	ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]domain.RawEmail, error)
	// PurgeBodiesOlderThan blanks body fields of parsed mail past the
	// retention horizon, keeping the row skeleton for audit.
	PurgeBodiesOlderThan(ctx context.Context, days int) (int64, error)
}

// EventRepository stores normalized alert events.
type EventRepository interface {
	Insert(ctx context.Context, event *domain.AlertEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AlertEvent, error)
	ListByIncident(ctx context.Context, incidentID uuid.UUID, limit int) ([]domain.AlertEvent, error)
}

// IncidentTx is the transactional view the correlator works in while
// holding the per-fingerprint lock.
type IncidentTx interface {
	GetLive(ctx context.Context, fingerprint string) (*domain.Incident, error)
	Insert(ctx context.Context, incident *domain.Incident) error
	Update(ctx context.Context, incident *domain.Incident) error
	LinkEvent(ctx context.Context, link *domain.IncidentEvent) error
	// LastLinkedEvent returns the most recently linked alert event, or
	// nil when none exists.
	LastLinkedEvent(ctx context.Context, incidentID uuid.UUID) (*domain.AlertEvent, error)
	// LatestOccurredAt returns the max occurred_at among linked events.
	LatestOccurredAt(ctx context.Context, incidentID uuid.UUID) (time.Time, error)
}

// IncidentRepository owns incident rows. All single-event mutations run
// inside WithFingerprintLock so that per-fingerprint ordering holds.
type IncidentRepository interface {
	// WithFingerprintLock opens a transaction, takes the advisory lock
	// derived from the fingerprint, and runs fn.
	WithFingerprintLock(ctx context.Context, fingerprint string, fn func(ctx context.Context, tx IncidentTx) error) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.Incident, error)
	List(ctx context.Context, status domain.IncidentStatus, severity domain.Severity, limit, offset int) ([]domain.Incident, error)

	// AutoResolveStale resolves live incidents not seen for olderThan
	// whose last state is not firing.
	AutoResolveStale(ctx context.Context, olderThan time.Duration) (int64, error)
	// ResolveQuiescent finishes resolving-state incidents whose quiet
	// period has elapsed since the last firing event.
	ResolveQuiescent(ctx context.Context, quietPeriod time.Duration) (int64, error)

	ListLive(ctx context.Context) ([]domain.Incident, error)
	SetMaintenance(ctx context.Context, incidentID, windowID uuid.UUID, inMaintenance bool) error
	// ClearExpiredMaintenance unsets is_in_maintenance where no active
	// window still covers the incident.
	ClearExpiredMaintenance(ctx context.Context, now time.Time) (int64, error)
}

// MaintenanceRepository stores windows and match records.
type MaintenanceRepository interface {
	// Upsert inserts or updates on (source, external_event_id) when the
	// external ID is set, otherwise inserts.
	Upsert(ctx context.Context, w *domain.MaintenanceWindow) error
	Update(ctx context.Context, w *domain.MaintenanceWindow) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MaintenanceWindow, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.MaintenanceWindow, error)
	ListActiveAt(ctx context.Context, t time.Time) ([]domain.MaintenanceWindow, error)
	DeactivateByExternalID(ctx context.Context, source domain.WindowSource, externalID string) error

	InsertMatch(ctx context.Context, m *domain.MaintenanceMatch) error
}

// PatternRepository stores learned extraction patterns and the audit log.
type PatternRepository interface {
	GetBySignature(ctx context.Context, signatureHash string) (*domain.PatternCache, error)
	Insert(ctx context.Context, p *domain.PatternCache) error
	// RecordOutcome folds the outcome into the EWMA success rate under a
	// row lock; match_count/last_matched_at advance only on success.
	RecordOutcome(ctx context.Context, id uuid.UUID, success bool) error
	InsertLog(ctx context.Context, log *domain.PatternExtractionLog) error
}

// QuarantineRepository stores extractions held for review.
type QuarantineRepository interface {
	Insert(ctx context.Context, q *domain.QuarantineEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.QuarantineEvent, error)
	ListPending(ctx context.Context, limit, offset int) ([]domain.QuarantineEvent, error)
	CountPending(ctx context.Context) (int, error)
	// Review stamps the outcome; returns false when the item was already
	// reviewed.
	Review(ctx context.Context, id uuid.UUID, action domain.QuarantineAction, reviewer string, editedData json.RawMessage) (bool, error)
	Stats(ctx context.Context) (*domain.QuarantineStats, error)
	DeleteReviewedOlderThan(ctx context.Context, days int) (int64, error)
}

// DLQRepository stores dead-lettered payloads.
type DLQRepository interface {
	Insert(ctx context.Context, entry *domain.DeadLetterEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error)
	// ClaimDue selects due pending entries with skip-locked semantics and
	// marks them retrying.
	ClaimDue(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error)
	// ReclaimStale flips entries stuck in retrying back to pending once
	// older than olderThan, recovering claims orphaned by a crash.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, lastError string) error
	List(ctx context.Context, status domain.DLQStatus, limit, offset int) ([]domain.DeadLetterEntry, error)
}

// IdempotencyRepository implements the begin/complete reservation
// protocol.
type IdempotencyRepository interface {
	// Begin atomically reserves the key. Processing rows older than
	// staleAfter are reclaimed as fresh.
	Begin(ctx context.Context, key string, ttl, staleAfter time.Duration) (domain.BeginOutcome, json.RawMessage, error)
	Complete(ctx context.Context, key string, result json.RawMessage) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// CursorRepository stores per-folder resumable ingestion state.
type CursorRepository interface {
	Get(ctx context.Context, folder string) (*domain.FolderCursor, error)
	// Advance upserts the cursor, never moving last_uid backwards, and
	// stamps last_poll_at/last_success_at.
	Advance(ctx context.Context, folder string, lastUID int64, processed int) error
	RecordError(ctx context.Context, folder string, errText string) error
	List(ctx context.Context) ([]domain.FolderCursor, error)
}

// ConfigRepository versions configuration snapshots.
type ConfigRepository interface {
	InsertVersion(ctx context.Context, payload json.RawMessage) (*domain.ConfigVersion, error)
	Activate(ctx context.Context, id uuid.UUID) error
	GetActive(ctx context.Context) (*domain.ConfigVersion, error)
	List(ctx context.Context, limit int) ([]domain.ConfigVersion, error)
}
