package domain

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// =============================================================================
// Pattern Cache - learned extraction rule sets keyed by format signature
// =============================================================================

// ExtractionRule tells the parser how to pull one field out of a message.
type ExtractionRule struct {
	Source   string            `json:"source"` // "subject" or "body"
	Regex    string            `json:"regex"`
	Group    int               `json:"group,omitempty"`
	Map      map[string]string `json:"map,omitempty"`      // post-extraction value mapping
	Keywords []string          `json:"keywords,omitempty"` // fallback keyword scan
}

// ExtractionRules maps field name -> rule.
type ExtractionRules map[string]ExtractionRule

type PatternCache struct {
	ID            uuid.UUID `json:"id"`
	SignatureHash string    `json:"signature_hash"` // 64-hex of the format signature
	FromDomain    string    `json:"from_domain"`
	SubjectPrefix string    `json:"subject_prefix"`
	BodyMarkers   []string  `json:"body_markers"`
	SourceName    string    `json:"source_name"`

	Rules ExtractionRules `json:"rules"`

	MatchCount    int     `json:"match_count"`
	SuccessRate   float64 `json:"success_rate"` // percent, EWMA-updated
	IsApproved    bool    `json:"is_approved"`
	LastMatchedAt time.Time `json:"last_matched_at,omitempty"`

	CreatedFromEmailID uuid.UUID `json:"created_from_email_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ewmaWeight is the per-sample weight for success-rate updates.
const ewmaWeight = 0.05

// ObserveOutcome folds one application outcome into the pattern stats.
// Only successful applications count as matches; a failure only decays
// the EWMA success rate.
func (p *PatternCache) ObserveOutcome(success bool) {
	sample := 0.0
	if success {
		sample = 100.0
		p.MatchCount++
	}
	p.SuccessRate = p.SuccessRate*(1-ewmaWeight) + sample*ewmaWeight
}

// Usable reports whether cached rules may be applied given the configured
// minimum success rate (percent).
func (p *PatternCache) Usable(minSuccess float64) bool {
	return p.SuccessRate >= minSuccess
}

// =============================================================================
// Pattern Extraction Log - audit trail for cache and LLM use
// =============================================================================

type ExtractionType string

const (
	ExtractionRuleBased   ExtractionType = "rule"
	ExtractionCached      ExtractionType = "cached"
	ExtractionLearnedNew  ExtractionType = "learned_new"
	ExtractionLLMFallback ExtractionType = "llm_fallback"
)

type PatternExtractionLog struct {
	ID             uuid.UUID       `json:"id"`
	RawEmailID     uuid.UUID       `json:"raw_email_id"`
	PatternCacheID uuid.UUID       `json:"pattern_cache_id,omitempty"`
	ExtractionType ExtractionType  `json:"extraction_type"`
	Extracted      json.RawMessage `json:"extracted,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	Succeeded      bool            `json:"succeeded"`
	Error          string          `json:"error,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	CreatedAt      time.Time       `json:"created_at"`
}
