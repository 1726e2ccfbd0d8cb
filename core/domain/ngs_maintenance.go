package domain

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// =============================================================================
// Maintenance Window
// =============================================================================

type WindowSource string

const (
	WindowSourceEmail  WindowSource = "email"
	WindowSourceManual WindowSource = "manual"
	WindowSourceGraph  WindowSource = "graph"
)

type SuppressMode string

const (
	SuppressMute      SuppressMode = "mute"
	SuppressDowngrade SuppressMode = "downgrade"
	SuppressDigest    SuppressMode = "digest"
)

// ParseSuppressMode maps a token to a mode, defaulting to mute.
func ParseSuppressMode(raw string) SuppressMode {
	switch SuppressMode(raw) {
	case SuppressDowngrade:
		return SuppressDowngrade
	case SuppressDigest:
		return SuppressDigest
	default:
		return SuppressMute
	}
}

// Scope maps selector key -> accepted values. Keys are host, service,
// env, region, tag. Values for host/service may be globs. Different keys
// AND together; values under one key OR together. An empty scope matches
// nothing.
type Scope map[string][]string

// ScopeKeys are the selector keys a window scope may use.
var ScopeKeys = []string{"host", "service", "env", "region", "tag"}

// IsEmpty reports whether the scope has no selectors with values.
func (s Scope) IsEmpty() bool {
	for _, vals := range s {
		if len(vals) > 0 {
			return false
		}
	}
	return true
}

type MaintenanceWindow struct {
	ID              uuid.UUID    `json:"id"`
	Source          WindowSource `json:"source"`
	ExternalEventID string       `json:"external_event_id,omitempty"`

	Title     string `json:"title"`
	Organizer string `json:"organizer,omitempty"`

	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Timezone string    `json:"timezone,omitempty"`

	Scope        Scope        `json:"scope"`
	SuppressMode SuppressMode `json:"suppress_mode"`

	IsActive       bool   `json:"is_active"`
	IsRecurring    bool   `json:"is_recurring"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`

	CreatedFromEmailID uuid.UUID `json:"created_from_email_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ActiveAt reports whether the window covers instant t.
func (w *MaintenanceWindow) ActiveAt(t time.Time) bool {
	return w.IsActive && !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}

// =============================================================================
// Maintenance Match - explainability record
// =============================================================================

// MatchReason explains one selector hit inside a maintenance match.
type MatchReason struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
	Value   string `json:"value"`
}

type MaintenanceMatch struct {
	ID           uuid.UUID       `json:"id"`
	WindowID     uuid.UUID       `json:"window_id"`
	IncidentID   uuid.UUID       `json:"incident_id,omitempty"`
	AlertEventID uuid.UUID       `json:"alert_event_id,omitempty"`
	MatchReason  json.RawMessage `json:"match_reason"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EncodeMatchReasons packs the selector hits as the match_reason JSON.
func EncodeMatchReasons(reasons []MatchReason) json.RawMessage {
	payload, err := json.Marshal(map[string]any{"reasons": reasons})
	if err != nil {
		return json.RawMessage(`{"reasons":[]}`)
	}
	return payload
}
