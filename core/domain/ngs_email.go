package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Raw Email - immutable record of one ingested message
// =============================================================================

type ParseStatus string

const (
	ParseStatusPending     ParseStatus = "pending"     // stored, not yet parsed
	ParseStatusParsed      ParseStatus = "parsed"      // alert events produced
	ParseStatusFailed      ParseStatus = "failed"      // data error, will not retry
	ParseStatusQuarantined ParseStatus = "quarantined" // waiting for human review
	ParseStatusRejected    ParseStatus = "rejected"    // rejected during review
)

// CanTransitionTo enforces the monotonic pending -> terminal progression.
// Quarantine review may move a terminal status back to pending for
// reprocessing; that is the only backward edge.
func (s ParseStatus) CanTransitionTo(next ParseStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case ParseStatusPending:
		return true
	case ParseStatusQuarantined, ParseStatusFailed:
		return next == ParseStatusPending || next == ParseStatusRejected
	default:
		return false
	}
}

// RawEmail holds one ingested message. Content fields are never mutated
// after insert; only parse_status/parse_error/processed_at advance.
type RawEmail struct {
	ID        uuid.UUID `json:"id"`
	Folder    string    `json:"folder"`
	UID       int64     `json:"uid"`
	MessageID string    `json:"message_id"`

	Subject     string            `json:"subject"`
	FromAddress string            `json:"from_address"`
	ToAddresses []string          `json:"to_addresses"`
	DateHeader  time.Time         `json:"date_header"`
	Headers     map[string]string `json:"headers"`

	BodyText    string           `json:"body_text"`
	BodyHTML    string           `json:"body_html,omitempty"`
	ICSPayload  string           `json:"ics_payload,omitempty"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`

	ReceivedAt  time.Time   `json:"received_at"`
	ParseStatus ParseStatus `json:"parse_status"`
	ParseError  string      `json:"parse_error,omitempty"`
	ProcessedAt time.Time   `json:"processed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AttachmentMeta describes an attachment without carrying its content.
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Header does a case-insensitive header lookup. Headers are stored with
// canonical lowercase keys, so this is a direct map hit after folding.
func (e *RawEmail) Header(name string) string {
	return e.Headers[foldHeaderName(name)]
}

func foldHeaderName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// HasCalendarInvite reports whether the message carries an ICS payload.
func (e *RawEmail) HasCalendarInvite() bool {
	return e.ICSPayload != ""
}
