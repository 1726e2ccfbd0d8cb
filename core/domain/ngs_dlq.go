package domain

import (
	"math/rand"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// =============================================================================
// Dead Letter Queue
// =============================================================================

type DLQStatus string

const (
	DLQPending  DLQStatus = "pending"
	DLQRetrying DLQStatus = "retrying"
	DLQFailed   DLQStatus = "failed" // retries exhausted
	DLQResolved DLQStatus = "resolved"
)

type DeadLetterEntry struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"` // originating job type
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`

	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	NextRetryAt time.Time `json:"next_retry_at"`
	Status      DLQStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanRetry reports whether another dispatch attempt is allowed.
func (d *DeadLetterEntry) CanRetry() bool {
	return d.RetryCount < d.MaxRetries
}

// NextBackoff computes the retry delay for a given attempt:
// min(cap, base * 2^retry) with ±20% jitter.
func NextBackoff(base, cap time.Duration, retryCount int) time.Duration {
	d := base << uint(retryCount)
	if d > cap || d <= 0 {
		d = cap
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * jitter)
}

// =============================================================================
// Idempotency Key
// =============================================================================

type IdempotencyStatus string

const (
	IdemProcessing IdempotencyStatus = "processing"
	IdemCompleted  IdempotencyStatus = "completed"
)

// BeginOutcome is the result of an idempotency reservation attempt.
type BeginOutcome string

const (
	BeginFresh      BeginOutcome = "fresh"       // key reserved, proceed
	BeginInProgress BeginOutcome = "in_progress" // someone else is working on it
	BeginCompleted  BeginOutcome = "completed"   // already done, result available
)

type IdempotencyKey struct {
	Key       string            `json:"key"` // <= 64 chars
	Status    IdempotencyStatus `json:"status"`
	Result    json.RawMessage   `json:"result,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// =============================================================================
// Folder Cursor - resumable per-folder ingestion state
// =============================================================================

type FolderCursor struct {
	Folder          string    `json:"folder"`
	LastUID         int64     `json:"last_uid"`
	LastPollAt      time.Time `json:"last_poll_at,omitempty"`
	LastSuccessAt   time.Time `json:"last_success_at,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	ErrorCount      int       `json:"error_count"`
	EmailsProcessed int64     `json:"emails_processed"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// =============================================================================
// Config Version
// =============================================================================

type ConfigVersion struct {
	ID          uuid.UUID       `json:"id"`
	Version     int             `json:"version"`
	Payload     json.RawMessage `json:"payload"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	ActivatedAt time.Time       `json:"activated_at,omitempty"`
}
