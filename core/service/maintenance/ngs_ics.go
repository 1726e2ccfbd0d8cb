package maintenance

import (
	"strings"
	"time"

	"github.com/kapella-hub/ngs/pkg/apperr"
)

// icsEvent is the subset of a VEVENT the maintenance engine consumes.
type icsEvent struct {
	UID         string
	Summary     string
	Description string
	Organizer   string
	Start       time.Time
	End         time.Time
	Timezone    string
	Cancelled   bool
	RRule       string
}

// parseICS extracts the first VEVENT from a calendar payload. Folded
// lines (RFC 5545 §3.1) are unfolded before parsing; properties outside
// a VEVENT are ignored.
func parseICS(payload string) (*icsEvent, error) {
	lines := unfoldICS(payload)

	var (
		ev      *icsEvent
		inEvent bool
	)
	for _, line := range lines {
		switch {
		case strings.EqualFold(line, "BEGIN:VEVENT"):
			inEvent = true
			ev = &icsEvent{}
			continue
		case strings.EqualFold(line, "END:VEVENT"):
			if ev != nil {
				return finishICSEvent(ev)
			}
			inEvent = false
			continue
		}
		if !inEvent || ev == nil {
			continue
		}

		name, params, value, ok := splitICSProperty(line)
		if !ok {
			continue
		}
		switch name {
		case "UID":
			ev.UID = value
		case "SUMMARY":
			ev.Summary = unescapeICS(value)
		case "DESCRIPTION":
			ev.Description = unescapeICS(value)
		case "ORGANIZER":
			ev.Organizer = strings.TrimPrefix(strings.ToLower(value), "mailto:")
		case "STATUS":
			ev.Cancelled = strings.EqualFold(value, "CANCELLED")
		case "RRULE":
			ev.RRule = value
		case "DTSTART":
			t, tz, err := parseICSTime(value, params)
			if err != nil {
				return nil, err
			}
			ev.Start = t
			if tz != "" {
				ev.Timezone = tz
			}
		case "DTEND":
			t, _, err := parseICSTime(value, params)
			if err != nil {
				return nil, err
			}
			ev.End = t
		}
	}
	return nil, apperr.MalformedMail("calendar payload has no VEVENT")
}

func finishICSEvent(ev *icsEvent) (*icsEvent, error) {
	if ev.Cancelled {
		return ev, nil
	}
	if ev.Start.IsZero() {
		return nil, apperr.MalformedMail("VEVENT has no DTSTART")
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(time.Hour)
	}
	if ev.Timezone == "" {
		ev.Timezone = "UTC"
	}
	return ev, nil
}

// unfoldICS joins continuation lines (leading space or tab) to their
// parent line and drops blanks.
func unfoldICS(payload string) []string {
	raw := strings.Split(strings.ReplaceAll(payload, "\r\n", "\n"), "\n")
	var lines []string
	for _, line := range raw {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		if line = strings.TrimRight(line, "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// splitICSProperty splits "NAME;PARAM=V;PARAM=V:value" into its parts.
func splitICSProperty(line string) (name string, params map[string]string, value string, ok bool) {
	head, value, found := strings.Cut(line, ":")
	if !found {
		return "", nil, "", false
	}
	parts := strings.Split(head, ";")
	name = strings.ToUpper(strings.TrimSpace(parts[0]))
	params = map[string]string{}
	for _, p := range parts[1:] {
		if k, v, found := strings.Cut(p, "="); found {
			params[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return name, params, strings.TrimSpace(value), true
}

func unescapeICS(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}

// parseICSTime handles the three DTSTART/DTEND value forms: UTC
// ("20260512T090000Z"), local with TZID param, and all-day dates
// ("20260512").
func parseICSTime(value string, params map[string]string) (time.Time, string, error) {
	tzid := params["TZID"]

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		if err != nil {
			return time.Time{}, "", apperr.MalformedMail("bad ICS timestamp: " + value)
		}
		return t, "UTC", nil
	}

	loc := time.UTC
	if tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return time.Time{}, "", apperr.MalformedMail("unknown ICS timezone: " + tzid)
		}
		loc = l
	}

	if t, err := time.ParseInLocation("20060102T150405", value, loc); err == nil {
		return t, tzid, nil
	}
	if t, err := time.ParseInLocation("20060102", value, loc); err == nil {
		return t, tzid, nil
	}
	return time.Time{}, "", apperr.MalformedMail("bad ICS timestamp: " + value)
}

// =============================================================================
// RRULE expansion
// =============================================================================

// nextOccurrence walks a DAILY or WEEKLY recurrence forward from the
// stored start and returns the first occurrence whose end is after
// "after", bounded by the horizon. Unsupported frequencies and exhausted
// COUNT/UNTIL rules return false.
func nextOccurrence(rrule string, start, end, after time.Time, horizon time.Duration) (time.Time, time.Time, bool) {
	freq, interval, count, until := parseRRule(rrule)
	if interval <= 0 {
		interval = 1
	}

	var step time.Duration
	switch freq {
	case "DAILY":
		step = 24 * time.Hour * time.Duration(interval)
	case "WEEKLY":
		step = 7 * 24 * time.Hour * time.Duration(interval)
	default:
		return time.Time{}, time.Time{}, false
	}

	duration := end.Sub(start)
	if duration <= 0 {
		duration = time.Hour
	}
	limit := after.Add(horizon)

	occStart := start
	for i := 0; ; i++ {
		if count > 0 && i >= count {
			return time.Time{}, time.Time{}, false
		}
		if !until.IsZero() && occStart.After(until) {
			return time.Time{}, time.Time{}, false
		}
		if occStart.After(limit) {
			return time.Time{}, time.Time{}, false
		}
		occEnd := occStart.Add(duration)
		if occEnd.After(after) {
			return occStart, occEnd, true
		}
		occStart = occStart.Add(step)
	}
}

func parseRRule(rrule string) (freq string, interval, count int, until time.Time) {
	interval = 1
	for _, part := range strings.Split(rrule, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(k)) {
		case "FREQ":
			freq = strings.ToUpper(strings.TrimSpace(v))
		case "INTERVAL":
			interval = atoiDefault(v, 1)
		case "COUNT":
			count = atoiDefault(v, 0)
		case "UNTIL":
			if t, err := time.Parse("20060102T150405Z", v); err == nil {
				until = t
			} else if t, err := time.Parse("20060102", v); err == nil {
				until = t
			}
		}
	}
	return freq, interval, count, until
}

func atoiDefault(s string, def int) int {
	n := 0
	for _, c := range strings.TrimSpace(s) {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return def
	}
	return n
}
