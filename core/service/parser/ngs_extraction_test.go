package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

func TestApplyExtractionRules(t *testing.T) {
	subject := "AcmeMonitor: node trouble"
	body := "node=db-9\nlevel=critical\nstatus=open\n"

	rules := domain.ExtractionRules{
		"host":     {Source: "body", Regex: `node=(\S+)`},
		"severity": {Source: "body", Regex: `level=(\w+)`},
		"state":    {Source: "body", Regex: `status=(\w+)`, Map: map[string]string{"open": "firing"}},
		"service":  {Source: "subject", Regex: `(\w+)Monitor`},
		"missing":  {Source: "body", Regex: `nowhere=(\S+)`},
		"keyword":  {Source: "body", Keywords: []string{"CRITICAL", "warning"}},
	}

	fields, err := ApplyExtractionRules(rules, subject, body)
	if err != nil {
		t.Fatalf("ApplyExtractionRules: %v", err)
	}
	want := map[string]string{
		"host":     "db-9",
		"severity": "critical",
		"state":    "firing",
		"service":  "Acme",
		"keyword":  "CRITICAL",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
		}
	}
	if _, ok := fields["missing"]; ok {
		t.Error("non-matching rule produced a value")
	}
}

func TestApplyExtractionRules_BadRegexPoisonsSet(t *testing.T) {
	rules := domain.ExtractionRules{
		"host": {Source: "body", Regex: `([unclosed`},
	}
	_, err := ApplyExtractionRules(rules, "s", "b")
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.ClassOf(err) != apperr.ClassData {
		t.Errorf("class = %v, want ClassData", apperr.ClassOf(err))
	}
}

func validExtraction() *out.LLMExtraction {
	return &out.LLMExtraction{
		Host:       "db-9",
		Service:    "postgres",
		Severity:   "critical",
		State:      "firing",
		Summary:    "disk almost full",
		Confidence: 0.9,
		Rules: domain.ExtractionRules{
			"host":     {Source: "body", Regex: `node=(\S+)`},
			"severity": {Source: "body", Regex: `level=(\w+)`},
			"state":    {Source: "body", Regex: `status=(\w+)`, Map: map[string]string{"open": "firing"}},
		},
	}
}

func TestValidateExtraction(t *testing.T) {
	subject := "AcmeMonitor: node trouble"
	body := "node=db-9\nlevel=critical\nstatus=open\n"

	tests := []struct {
		name    string
		mutate  func(ex *out.LLMExtraction)
		wantErr bool
	}{
		{"valid", func(ex *out.LLMExtraction) {}, false},
		{"confidence above one", func(ex *out.LLMExtraction) { ex.Confidence = 1.3 }, true},
		{"confidence negative", func(ex *out.LLMExtraction) { ex.Confidence = -0.1 }, true},
		{"empty host", func(ex *out.LLMExtraction) { ex.Host = "  " }, true},
		{"severity outside enum", func(ex *out.LLMExtraction) { ex.Severity = "catastrophic" }, true},
		{"state outside enum", func(ex *out.LLMExtraction) { ex.State = "pending" }, true},
		{"rule does not compile", func(ex *out.LLMExtraction) {
			ex.Rules["host"] = domain.ExtractionRule{Source: "body", Regex: `([`}
		}, true},
		{"rule contradicts claimed host", func(ex *out.LLMExtraction) { ex.Host = "db-42" }, true},
		{"mapped state accepted", func(ex *out.LLMExtraction) { ex.State = "firing" }, false},
		{"rule for unclaimed field ignored", func(ex *out.LLMExtraction) {
			ex.Service = ""
			ex.Rules["service"] = domain.ExtractionRule{Source: "body", Regex: `svc=(\S+)`}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := validExtraction()
			tt.mutate(ex)
			err := ValidateExtraction(ex, subject, body)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExtraction err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && apperr.ClassOf(err) != apperr.ClassData {
				t.Errorf("class = %v, want ClassData", apperr.ClassOf(err))
			}
		})
	}

	if err := ValidateExtraction(nil, subject, body); err == nil {
		t.Error("nil extraction accepted")
	}
}

func TestValidateExtraction_ClampsLongFields(t *testing.T) {
	ex := validExtraction()
	ex.Host = strings.Repeat("h", 400)
	ex.Rules = nil
	if err := ValidateExtraction(ex, "s", "b"); err != nil {
		t.Fatalf("ValidateExtraction: %v", err)
	}
	if len(ex.Host) != maxFieldLen {
		t.Errorf("host length = %d, want %d", len(ex.Host), maxFieldLen)
	}
}

func TestBodyExcerpt(t *testing.T) {
	if got := BodyExcerpt("short", 100); got != "short" {
		t.Errorf("BodyExcerpt = %q", got)
	}
	long := strings.Repeat("ö", 100)
	got := BodyExcerpt(long, 101)
	if !utf8.ValidString(got) {
		t.Error("cut landed inside a rune")
	}
	if len(got) != 100 {
		t.Errorf("len = %d, want 100", len(got))
	}
}
