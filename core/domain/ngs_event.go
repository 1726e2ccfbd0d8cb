package domain

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// =============================================================================
// Severity - normalized across monitoring tools
// =============================================================================

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities: info < low < medium < high < critical.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering position of the severity; unknown values rank
// as medium.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityMedium]
}

// AtLeast reports whether s >= other under the severity ordering.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// Downgraded returns the severity one step lower, used by the
// maintenance "downgrade" mode. Info stays info.
func (s Severity) Downgraded() Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	case SeverityMedium:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// severityAliases maps native monitoring-tool tokens to the core enum.
var severityAliases = map[string]Severity{
	"critical":      SeverityCritical,
	"crit":          SeverityCritical,
	"emergency":     SeverityCritical,
	"alert":         SeverityCritical,
	"red":           SeverityCritical,
	"p1":            SeverityCritical,
	"high":          SeverityHigh,
	"major":         SeverityHigh,
	"error":         SeverityHigh,
	"excessive":     SeverityHigh,
	"firing":        SeverityHigh,
	"p2":            SeverityHigh,
	"warning":       SeverityMedium,
	"warn":          SeverityMedium,
	"medium":        SeverityMedium,
	"yellow":        SeverityMedium,
	"p3":            SeverityMedium,
	"minor":         SeverityLow,
	"low":           SeverityLow,
	"p4":            SeverityLow,
	"info":          SeverityInfo,
	"informational": SeverityInfo,
	"ok":            SeverityInfo,
	"resolved":      SeverityInfo,
	"recovery":      SeverityInfo,
	"green":         SeverityInfo,
}

// NormalizeSeverity maps a native token to the core enum. Unknown tokens
// become medium.
func NormalizeSeverity(raw string) Severity {
	if s, ok := severityAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return SeverityMedium
}

// =============================================================================
// Event State
// =============================================================================

type EventState string

const (
	StateFiring   EventState = "firing"
	StateResolved EventState = "resolved"
	StateUnknown  EventState = "unknown"
)

var (
	resolvedStateTokens = map[string]bool{
		"ok": true, "resolved": true, "recovery": true,
		"green": true, "closed": true, "clear": true,
	}
	firingStateTokens = map[string]bool{
		"problem": true, "critical": true, "warning": true,
		"firing": true, "red": true, "yellow": true,
		"triggered": true, "open": true,
	}
)

// NormalizeState maps a native token to {firing, resolved, unknown}.
func NormalizeState(raw string) EventState {
	token := strings.ToLower(strings.TrimSpace(raw))
	if resolvedStateTokens[token] {
		return StateResolved
	}
	if firingStateTokens[token] {
		return StateFiring
	}
	return StateUnknown
}

// =============================================================================
// Alert Event - one normalized alert occurrence, created once, never mutated
// =============================================================================

type AlertEvent struct {
	ID         uuid.UUID `json:"id"`
	RawEmailID uuid.UUID `json:"raw_email_id,omitempty"`

	SourceTool  string `json:"source_tool"`
	Environment string `json:"environment,omitempty"`
	Region      string `json:"region,omitempty"`
	Host        string `json:"host"`
	CheckName   string `json:"check_name,omitempty"`
	Service     string `json:"service,omitempty"`

	Severity   Severity   `json:"severity"`
	State      EventState `json:"state"`
	OccurredAt time.Time  `json:"occurred_at"`

	NormalizedSignature string `json:"normalized_signature"`
	FingerprintV2       string `json:"fingerprint_v2"`

	Payload json.RawMessage `json:"payload,omitempty"`
	Tags    []string        `json:"tags,omitempty"`

	IsSuppressed      bool      `json:"is_suppressed"`
	SuppressionReason string    `json:"suppression_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// CheckOrService returns the first non-empty of check name or service.
func (e *AlertEvent) CheckOrService() string {
	if e.CheckName != "" {
		return e.CheckName
	}
	return e.Service
}

// ContentHash feeds dedup detection: two events with the same content
// hash are repeats of the same observation.
func (e *AlertEvent) ContentHash() string {
	return e.FingerprintV2 + "|" + string(e.Severity) + "|" + string(e.State) + "|" + e.NormalizedSignature
}
