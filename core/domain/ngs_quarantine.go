package domain

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// =============================================================================
// Quarantine - low-confidence extractions held for human review
// =============================================================================

type QuarantineReason string

const (
	QuarantineLowConfidence    QuarantineReason = "low_confidence"
	QuarantineValidationFailed QuarantineReason = "validation_failed"
	QuarantineMissingFields    QuarantineReason = "missing_required_fields"
	QuarantineLLMError         QuarantineReason = "llm_error"
)

type QuarantineAction string

const (
	QuarantineApproved QuarantineAction = "approved"
	QuarantineRejected QuarantineAction = "rejected"
	QuarantineEdited   QuarantineAction = "edited"
)

// ValidQuarantineAction reports whether the token is a known review action.
func ValidQuarantineAction(raw string) bool {
	switch QuarantineAction(raw) {
	case QuarantineApproved, QuarantineRejected, QuarantineEdited:
		return true
	}
	return false
}

type QuarantineEvent struct {
	ID         uuid.UUID `json:"id"`
	RawEmailID uuid.UUID `json:"raw_email_id"`

	ExtractionData json.RawMessage  `json:"extraction_data"`
	Confidence     float64          `json:"confidence"`
	Reason         QuarantineReason `json:"quarantine_reason"`

	ReviewedAt  time.Time        `json:"reviewed_at,omitempty"`
	ReviewedBy  string           `json:"reviewed_by,omitempty"`
	ActionTaken QuarantineAction `json:"action_taken,omitempty"`
	EditedData  json.RawMessage  `json:"edited_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsPending reports whether the item still needs review.
func (q *QuarantineEvent) IsPending() bool {
	return q.ReviewedAt.IsZero()
}

// QuarantineStats summarizes the review queue.
type QuarantineStats struct {
	Pending              int            `json:"pending"`
	Approved             int            `json:"approved"`
	Rejected             int            `json:"rejected"`
	Edited               int            `json:"edited"`
	AvgPendingConfidence float64        `json:"avg_pending_confidence"`
	ByReason             map[string]int `json:"by_reason"`
}
