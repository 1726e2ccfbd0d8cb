package maintenance

import (
	"strings"
	"testing"
	"time"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:mw-2026-0512@ops.example.com\r\n" +
	"SUMMARY:Database cluster upgrade\r\n" +
	"DESCRIPTION:Scope: host=db-*\\; env=prod\\nRolling res\r\n" +
	" tarts expected\r\n" +
	"ORGANIZER:mailto:noc@example.com\r\n" +
	"DTSTART:20260512T220000Z\r\n" +
	"DTEND:20260513T020000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	ev, err := parseICS(sampleICS)
	if err != nil {
		t.Fatalf("parseICS: %v", err)
	}
	if ev.UID != "mw-2026-0512@ops.example.com" {
		t.Errorf("uid = %q", ev.UID)
	}
	if ev.Summary != "Database cluster upgrade" {
		t.Errorf("summary = %q", ev.Summary)
	}
	if ev.Organizer != "noc@example.com" {
		t.Errorf("organizer = %q", ev.Organizer)
	}
	wantStart := time.Date(2026, 5, 12, 22, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", ev.Start, wantStart)
	}
	if !ev.End.Equal(wantStart.Add(4 * time.Hour)) {
		t.Errorf("end = %v", ev.End)
	}
	// Folded + escaped description reassembles.
	if !strings.Contains(ev.Description, "Scope: host=db-*; env=prod") {
		t.Errorf("description = %q", ev.Description)
	}
	if !strings.Contains(ev.Description, "Rolling restarts expected") {
		t.Errorf("folded line not joined: %q", ev.Description)
	}
	if ev.Cancelled {
		t.Error("event marked cancelled")
	}
}

func TestParseICS_TZIDAndDefaults(t *testing.T) {
	ics := strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:tz-test",
		"DTSTART;TZID=Europe/Stockholm:20260512T090000",
		"END:VEVENT",
	}, "\n")
	ev, err := parseICS(ics)
	if err != nil {
		t.Fatalf("parseICS: %v", err)
	}
	if ev.Timezone != "Europe/Stockholm" {
		t.Errorf("timezone = %q", ev.Timezone)
	}
	loc, _ := time.LoadLocation("Europe/Stockholm")
	want := time.Date(2026, 5, 12, 9, 0, 0, 0, loc)
	if !ev.Start.Equal(want) {
		t.Errorf("start = %v, want %v", ev.Start, want)
	}
	// Missing DTEND defaults to one hour.
	if !ev.End.Equal(want.Add(time.Hour)) {
		t.Errorf("end = %v, want %v", ev.End, want.Add(time.Hour))
	}
}

func TestParseICS_Cancelled(t *testing.T) {
	ics := strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:mw-77",
		"STATUS:CANCELLED",
		"END:VEVENT",
	}, "\n")
	ev, err := parseICS(ics)
	if err != nil {
		t.Fatalf("parseICS: %v", err)
	}
	if !ev.Cancelled {
		t.Error("cancellation not detected")
	}
	if ev.UID != "mw-77" {
		t.Errorf("uid = %q", ev.UID)
	}
}

func TestParseICS_Errors(t *testing.T) {
	if _, err := parseICS("BEGIN:VCALENDAR\nEND:VCALENDAR"); err == nil {
		t.Error("payload without VEVENT accepted")
	}
	if _, err := parseICS("BEGIN:VEVENT\nUID:x\nEND:VEVENT"); err == nil {
		t.Error("VEVENT without DTSTART accepted")
	}
	if _, err := parseICS("BEGIN:VEVENT\nDTSTART:notatime\nEND:VEVENT"); err == nil {
		t.Error("bad timestamp accepted")
	}
}

func TestNextOccurrence(t *testing.T) {
	start := time.Date(2026, 5, 1, 22, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	horizon := 90 * 24 * time.Hour

	t.Run("daily", func(t *testing.T) {
		after := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
		s, e, ok := nextOccurrence("FREQ=DAILY", start, end, after, horizon)
		if !ok {
			t.Fatal("no occurrence")
		}
		if !s.Equal(time.Date(2026, 5, 10, 22, 0, 0, 0, time.UTC)) {
			t.Errorf("start = %v", s)
		}
		if !e.Equal(s.Add(2 * time.Hour)) {
			t.Errorf("end = %v", e)
		}
	})

	t.Run("weekly with interval", func(t *testing.T) {
		after := time.Date(2026, 5, 16, 0, 0, 0, 0, time.UTC)
		s, _, ok := nextOccurrence("FREQ=WEEKLY;INTERVAL=2", start, end, after, horizon)
		if !ok {
			t.Fatal("no occurrence")
		}
		// May 1 + 2 weeks = May 15 22:00, still ending after May 16? No:
		// ends May 16 00:00, not after. Next is May 29.
		if !s.Equal(time.Date(2026, 5, 29, 22, 0, 0, 0, time.UTC)) {
			t.Errorf("start = %v", s)
		}
	})

	t.Run("count exhausted", func(t *testing.T) {
		after := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
		if _, _, ok := nextOccurrence("FREQ=DAILY;COUNT=3", start, end, after, horizon); ok {
			t.Error("exhausted COUNT still produced an occurrence")
		}
	})

	t.Run("until respected", func(t *testing.T) {
		after := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
		if _, _, ok := nextOccurrence("FREQ=DAILY;UNTIL=20260510T000000Z", start, end, after, horizon); ok {
			t.Error("occurrence past UNTIL")
		}
	})

	t.Run("unsupported freq", func(t *testing.T) {
		if _, _, ok := nextOccurrence("FREQ=MONTHLY", start, end, start, horizon); ok {
			t.Error("unsupported frequency expanded")
		}
	})

	t.Run("beyond horizon", func(t *testing.T) {
		after := time.Date(2026, 5, 2, 1, 0, 0, 0, time.UTC)
		if _, _, ok := nextOccurrence("FREQ=WEEKLY;INTERVAL=52", start, end, after, 30*24*time.Hour); ok {
			t.Error("occurrence beyond horizon returned")
		}
	})
}
