package parser

import (
	"regexp"
	"strings"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// =============================================================================
// Extraction-rule application (pattern cache + LLM-proposed rules)
// =============================================================================

// ApplyExtractionRules runs a learned rule set against a message and
// returns the extracted field map. Rules with regexes that fail to
// compile poison the whole set (data error).
func ApplyExtractionRules(rules domain.ExtractionRules, subject, body string) (map[string]string, error) {
	fields := make(map[string]string, len(rules))

	for field, rule := range rules {
		text := body
		if rule.Source == "subject" {
			text = subject
		}

		var value string
		if rule.Regex != "" {
			re, err := regexp.Compile("(?im)" + rule.Regex)
			if err != nil {
				return nil, apperr.RegexCompile(rule.Regex, err)
			}
			group := rule.Group
			if group <= 0 {
				group = 1
			}
			if m := re.FindStringSubmatch(text); m != nil && group < len(m) {
				value = strings.TrimSpace(m[group])
			}
		}

		if value == "" && len(rule.Keywords) > 0 {
			lower := strings.ToLower(text)
			for _, kw := range rule.Keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					value = kw
					break
				}
			}
		}

		if value != "" && len(rule.Map) > 0 {
			if mapped, ok := rule.Map[strings.ToLower(value)]; ok {
				value = mapped
			}
		}

		if value != "" {
			fields[field] = value
		}
	}
	return fields, nil
}

// =============================================================================
// LLM output validation
// =============================================================================

// maxFieldLen bounds extracted identity fields.
const maxFieldLen = 255

// ValidateExtraction checks an LLM extraction against the schema and the
// source text. The returned error is always a data-class AppError; the
// caller maps it to a quarantine reason.
//
// Checks, in order: confidence range, enum membership, host presence,
// regex compilation, and self-consistency (the proposed rules must
// reproduce the values the model claims it extracted).
func ValidateExtraction(ex *out.LLMExtraction, subject, body string) error {
	if ex == nil {
		return apperr.ValidationFailed("empty extraction")
	}
	if ex.Confidence < 0 || ex.Confidence > 1 {
		return apperr.ValidationFailed("confidence outside [0,1]")
	}

	ex.Host = clampField(ex.Host)
	ex.Service = clampField(ex.Service)
	if ex.Host == "" {
		return apperr.ValidationFailed("host is empty")
	}

	if _, ok := severityEnum[domain.Severity(strings.ToLower(ex.Severity))]; !ok {
		return apperr.ValidationFailed("severity not in enum: " + ex.Severity)
	}
	if _, ok := stateEnum[domain.EventState(strings.ToLower(ex.State))]; !ok {
		return apperr.ValidationFailed("state not in enum: " + ex.State)
	}

	// Every proposed rule must compile and actually produce the value
	// the model reported for that field.
	claimed := map[string]string{
		"host":     ex.Host,
		"service":  ex.Service,
		"severity": ex.Severity,
		"state":    ex.State,
	}
	extracted, err := ApplyExtractionRules(ex.Rules, subject, body)
	if err != nil {
		return err
	}
	for field, rule := range ex.Rules {
		want, isIdentity := claimed[field]
		if !isIdentity || want == "" {
			continue
		}
		got := extracted[field]
		if rule.Map != nil {
			// Mapped rules compare post-mapping.
			if m, ok := rule.Map[strings.ToLower(got)]; ok {
				got = m
			}
		}
		if !strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want)) {
			return apperr.ValidationFailed("rule for " + field + " does not reproduce claimed value")
		}
	}
	return nil
}

var severityEnum = map[domain.Severity]bool{
	domain.SeverityCritical: true,
	domain.SeverityHigh:     true,
	domain.SeverityMedium:   true,
	domain.SeverityLow:      true,
	domain.SeverityInfo:     true,
}

var stateEnum = map[domain.EventState]bool{
	domain.StateFiring:   true,
	domain.StateResolved: true,
	domain.StateUnknown:  true,
}

func clampField(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxFieldLen {
		s = s[:maxFieldLen]
	}
	return s
}

// BodyExcerpt bounds the body handed to the LLM, cutting on a UTF-8
// boundary.
func BodyExcerpt(body string, maxBytes int) string {
	if len(body) <= maxBytes {
		return body
	}
	cut := maxBytes
	for cut > 0 && (body[cut]&0xC0) == 0x80 {
		cut--
	}
	return body[:cut]
}
