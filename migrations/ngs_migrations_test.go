package migrations

import (
	"strings"
	"testing"

	"github.com/kapella-hub/ngs/core/domain"
)

// checkValues returns the value list of the first "<column> IN (...)"
// constraint in ddl.
func checkValues(t *testing.T, ddl, column string) string {
	t.Helper()
	marker := column + " IN ("
	idx := strings.Index(ddl, marker)
	if idx < 0 {
		t.Fatalf("no %q constraint in ddl", marker)
	}
	rest := ddl[idx+len(marker):]
	end := strings.Index(rest, ")")
	if end < 0 {
		t.Fatalf("unterminated %q constraint", marker)
	}
	return rest[:end]
}

// Every state the normalizer can produce must be insertable. An event
// that trips the constraint classifies as transient and retries until
// it dead-letters, so a gap here silently loses alerts.
func TestAlertEventStateCheckAcceptsNormalizerOutput(t *testing.T) {
	ddl, err := FS.ReadFile("00002_correlation.sql")
	if err != nil {
		t.Fatalf("read ddl: %v", err)
	}
	allowed := checkValues(t, string(ddl), "state")

	tokens := []string{"PROBLEM", "RECOVERY", "ACKNOWLEDGEMENT", "FLAPPINGSTART", "ok", "firing"}
	for _, tok := range tokens {
		state := domain.NormalizeState(tok)
		if !strings.Contains(allowed, "'"+string(state)+"'") {
			t.Errorf("state %q (from token %q) rejected by the alert_events check", state, tok)
		}
	}
}

func TestAlertEventSeverityCheckAcceptsNormalizerOutput(t *testing.T) {
	ddl, err := FS.ReadFile("00002_correlation.sql")
	if err != nil {
		t.Fatalf("read ddl: %v", err)
	}
	allowed := checkValues(t, string(ddl), "severity")

	tokens := []string{"CRITICAL", "major", "warn", "p4", "green", "no-such-severity"}
	for _, tok := range tokens {
		sev := domain.NormalizeSeverity(tok)
		if !strings.Contains(allowed, "'"+string(sev)+"'") {
			t.Errorf("severity %q (from token %q) rejected by the alert_events check", sev, tok)
		}
	}
}
