package out

import (
	"context"

	"github.com/kapella-hub/ngs/core/domain"
)

// LLMExtraction is the raw extraction result returned by the language
// model, before validation.
type LLMExtraction struct {
	Host       string                 `json:"host"`
	Service    string                 `json:"service"`
	Severity   string                 `json:"severity"`
	State      string                 `json:"state"`
	Summary    string                 `json:"summary"`
	SourceName string                 `json:"source_name"`
	Rules      domain.ExtractionRules `json:"extraction_rules"`
	Confidence float64                `json:"confidence"`
}

// LLMClient asks a language model to propose field extractions for a
// novel email format. The implementation must enforce a deadline; a
// malformed response is an error, never a partial result.
type LLMClient interface {
	Extract(ctx context.Context, subject, bodyExcerpt string) (*LLMExtraction, error)
}
