package maintenance

import (
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// Structured body-form declarations
// =============================================================================

// DefaultSubjectPrefixes mark a message as a maintenance declaration.
var DefaultSubjectPrefixes = []string{"[MW]", "[Maintenance]", "Maintenance:", "MAINTENANCE:"}

var maintenanceKeywords = []string{
	"maintenance window", "scheduled maintenance", "planned outage",
}

var (
	reBodyTitle    = regexp.MustCompile(`(?im)^\s*Title:\s*(.+?)\s*$`)
	reBodyScope    = regexp.MustCompile(`(?im)^\s*Scope:\s*(.+?)\s*$`)
	reBodyMode     = regexp.MustCompile(`(?im)^\s*Mode:\s*(mute|downgrade|digest)\s*$`)
	reBodyStart    = regexp.MustCompile(`(?im)^\s*Start:\s*(.+?)\s*$`)
	reBodyEnd      = regexp.MustCompile(`(?im)^\s*End:\s*(.+?)\s*$`)
	reBodyTimezone = regexp.MustCompile(`(?im)^\s*Timezone:\s*(.+?)\s*$`)
)

// bodyForm holds the raw field values of a structured declaration.
type bodyForm struct {
	Title    string
	Scope    string
	Mode     string
	Start    string
	End      string
	Timezone string
}

func parseBodyForm(body string) bodyForm {
	get := func(re *regexp.Regexp) string {
		if m := re.FindStringSubmatch(body); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	return bodyForm{
		Title:    get(reBodyTitle),
		Scope:    get(reBodyScope),
		Mode:     get(reBodyMode),
		Start:    get(reBodyStart),
		End:      get(reBodyEnd),
		Timezone: get(reBodyTimezone),
	}
}

// isMaintenanceEmail reports whether a message declares a maintenance
// window: a recognized subject prefix, a calendar invite, or maintenance
// phrasing in the body.
func isMaintenanceEmail(subject, body string, hasICS bool, prefixes []string) bool {
	subjectLower := strings.ToLower(subject)
	for _, p := range prefixes {
		if strings.Contains(subjectLower, strings.ToLower(p)) {
			return true
		}
	}
	if hasICS {
		return true
	}
	bodyLower := strings.ToLower(body)
	for _, kw := range maintenanceKeywords {
		if strings.Contains(bodyLower, kw) {
			return true
		}
	}
	return false
}

var windowTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Jan 2, 2006 15:04",
	"Jan 2 2006 15:04",
}

// parseWindowTime parses a declared Start/End value in the window's
// timezone. Values carrying their own offset keep it.
func parseWindowTime(value, tzName string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	loc := time.UTC
	if tzName != "" {
		if l, err := time.LoadLocation(tzName); err == nil {
			loc = l
		}
	}
	for _, layout := range windowTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
