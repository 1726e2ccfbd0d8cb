package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Incident Status
// =============================================================================

type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolving    IncidentStatus = "resolving" // clear received, quiet period running
	IncidentResolved     IncidentStatus = "resolved"
	IncidentSuppressed   IncidentStatus = "suppressed"
)

// IsLive reports whether the incident can still absorb events.
func (s IncidentStatus) IsLive() bool {
	return s == IncidentOpen || s == IncidentAcknowledged || s == IncidentResolving
}

type ResolutionReason string

const (
	ResolutionExplicitClear  ResolutionReason = "explicit_clear"
	ResolutionSilenceTimeout ResolutionReason = "silence_timeout"
	ResolutionManual         ResolutionReason = "manual"
	ResolutionMaintenance    ResolutionReason = "maintenance"
)

// =============================================================================
// Incident - at most one live per fingerprint
// =============================================================================

type Incident struct {
	ID            uuid.UUID `json:"id"`
	FingerprintV2 string    `json:"fingerprint_v2"`
	Title         string    `json:"title"`

	SourceTool  string `json:"source_tool"`
	Environment string `json:"environment,omitempty"`
	Region      string `json:"region,omitempty"`
	Host        string `json:"host"`
	CheckName   string `json:"check_name,omitempty"`
	Service     string `json:"service,omitempty"`

	Status          IncidentStatus `json:"status"`
	SeverityCurrent Severity       `json:"severity_current"`
	SeverityMax     Severity       `json:"severity_max"`
	LastState       EventState     `json:"last_state"`

	FirstSeenAt      time.Time        `json:"first_seen_at"`
	LastSeenAt       time.Time        `json:"last_seen_at"`
	LastFiringAt     time.Time        `json:"last_firing_at,omitempty"`
	ResolvedAt       time.Time        `json:"resolved_at,omitempty"`
	ResolutionReason ResolutionReason `json:"resolution_reason,omitempty"`

	EventCount        int       `json:"event_count"`
	FlapCount         int       `json:"flap_count"`
	IsFlapping        bool      `json:"is_flapping"`
	LastStateChangeAt time.Time `json:"last_state_change_at,omitempty"`

	IsInMaintenance     bool      `json:"is_in_maintenance"`
	MaintenanceWindowID uuid.UUID `json:"maintenance_window_id,omitempty"`

	// Opaque enrichment fields written by an external collaborator.
	AISummary    string `json:"ai_summary,omitempty"`
	AISuggestion string `json:"ai_suggestion,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewIncidentTitle builds the display title from event identity fields,
// capped at 500 chars.
func NewIncidentTitle(e *AlertEvent) string {
	check := e.CheckOrService()
	if check == "" {
		check = "alert"
	}
	title := fmt.Sprintf("[%s] %s %s", strings.ToUpper(string(e.Severity)), e.Host, check)
	if e.SourceTool != "" {
		title += fmt.Sprintf(" (%s)", e.SourceTool)
	}
	if len(title) > 500 {
		title = title[:500]
	}
	return title
}

// =============================================================================
// IncidentEvent - link between incident and alert event
// =============================================================================

type IncidentEvent struct {
	ID             uuid.UUID `json:"id"`
	IncidentID     uuid.UUID `json:"incident_id"`
	AlertEventID   uuid.UUID `json:"alert_event_id"`
	IsDeduplicated bool      `json:"is_deduplicated"`
	CreatedAt      time.Time `json:"created_at"`
}
