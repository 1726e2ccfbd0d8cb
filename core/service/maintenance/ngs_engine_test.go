package maintenance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// ===== Fakes =====

type fakeWindowRepo struct {
	windows     map[uuid.UUID]*domain.MaintenanceWindow
	matches     []*domain.MaintenanceMatch
	deactivated []string
	listCalls   int
}

func newFakeWindowRepo() *fakeWindowRepo {
	return &fakeWindowRepo{windows: map[uuid.UUID]*domain.MaintenanceWindow{}}
}

func (r *fakeWindowRepo) Upsert(ctx context.Context, w *domain.MaintenanceWindow) error {
	if w.ExternalEventID != "" {
		for _, existing := range r.windows {
			if existing.Source == w.Source && existing.ExternalEventID == w.ExternalEventID {
				w.ID = existing.ID
				r.windows[existing.ID] = w
				return nil
			}
		}
	}
	r.windows[w.ID] = w
	return nil
}

func (r *fakeWindowRepo) Update(ctx context.Context, w *domain.MaintenanceWindow) error {
	r.windows[w.ID] = w
	return nil
}

func (r *fakeWindowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.windows, id)
	return nil
}

func (r *fakeWindowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MaintenanceWindow, error) {
	w, ok := r.windows[id]
	if !ok {
		return nil, apperr.NotFound("maintenance window")
	}
	return w, nil
}

func (r *fakeWindowRepo) List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.MaintenanceWindow, error) {
	r.listCalls++
	var result []domain.MaintenanceWindow
	for _, w := range r.windows {
		if activeOnly && !w.IsActive {
			continue
		}
		result = append(result, *w)
	}
	return result, nil
}

func (r *fakeWindowRepo) ListActiveAt(ctx context.Context, t time.Time) ([]domain.MaintenanceWindow, error) {
	var result []domain.MaintenanceWindow
	for _, w := range r.windows {
		if w.ActiveAt(t) {
			result = append(result, *w)
		}
	}
	return result, nil
}

func (r *fakeWindowRepo) DeactivateByExternalID(ctx context.Context, source domain.WindowSource, externalID string) error {
	r.deactivated = append(r.deactivated, externalID)
	for _, w := range r.windows {
		if w.Source == source && w.ExternalEventID == externalID {
			w.IsActive = false
		}
	}
	return nil
}

func (r *fakeWindowRepo) InsertMatch(ctx context.Context, m *domain.MaintenanceMatch) error {
	r.matches = append(r.matches, m)
	return nil
}

func (r *fakeWindowRepo) single(t *testing.T) *domain.MaintenanceWindow {
	t.Helper()
	if len(r.windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(r.windows))
	}
	for _, w := range r.windows {
		return w
	}
	return nil
}

type fakeIncidentStore struct {
	live       []domain.Incident
	flagged    map[uuid.UUID]uuid.UUID
	cleared    int
	clearCalls int
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{flagged: map[uuid.UUID]uuid.UUID{}}
}

func (r *fakeIncidentStore) WithFingerprintLock(ctx context.Context, fingerprint string, fn func(ctx context.Context, tx out.IncidentTx) error) error {
	return nil
}

func (r *fakeIncidentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	return nil, apperr.NotFound("incident")
}

func (r *fakeIncidentStore) List(ctx context.Context, status domain.IncidentStatus, severity domain.Severity, limit, offset int) ([]domain.Incident, error) {
	return nil, nil
}

func (r *fakeIncidentStore) AutoResolveStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (r *fakeIncidentStore) ResolveQuiescent(ctx context.Context, quietPeriod time.Duration) (int64, error) {
	return 0, nil
}

func (r *fakeIncidentStore) ListLive(ctx context.Context) ([]domain.Incident, error) {
	return r.live, nil
}

func (r *fakeIncidentStore) SetMaintenance(ctx context.Context, incidentID, windowID uuid.UUID, inMaintenance bool) error {
	if inMaintenance {
		r.flagged[incidentID] = windowID
	} else {
		delete(r.flagged, incidentID)
	}
	return nil
}

func (r *fakeIncidentStore) ClearExpiredMaintenance(ctx context.Context, now time.Time) (int64, error) {
	r.clearCalls++
	return int64(r.cleared), nil
}

type fakeBroadcaster struct {
	broadcasts []string
}

func (p *fakeBroadcaster) Publish(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (p *fakeBroadcaster) Broadcast(ctx context.Context, channel string, payload []byte) error {
	p.broadcasts = append(p.broadcasts, channel)
	return nil
}

// ===== Harness =====

var engineNow = time.Date(2026, 5, 12, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	engine    *Engine
	windows   *fakeWindowRepo
	incidents *fakeIncidentStore
	publisher *fakeBroadcaster
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		windows:   newFakeWindowRepo(),
		incidents: newFakeIncidentStore(),
		publisher: &fakeBroadcaster{},
	}
	f.engine = NewEngine(f.windows, f.incidents, f.publisher, Options{})
	f.engine.SetClock(func() time.Time { return engineNow })
	return f
}

func maintenanceEmail(subject, body string) *domain.RawEmail {
	return &domain.RawEmail{
		ID:          uuid.New(),
		Folder:      "INBOX",
		Subject:     subject,
		FromAddress: "noc@example.com",
		BodyText:    body,
		DateHeader:  engineNow.Add(-time.Minute),
		ReceivedAt:  engineNow,
	}
}

// ===== Detection tests =====

func TestDetectFromEmail_BodyForm(t *testing.T) {
	f := newEngineFixture()
	email := maintenanceEmail("[MW] DB maintenance tonight", strings.Join([]string{
		"Title: Database cluster upgrade",
		"Scope: host=db-*; env=prod",
		"Mode: downgrade",
		"Start: 2026-05-12 22:00",
		"End: 2026-05-13 02:00",
		"Timezone: Europe/Stockholm",
	}, "\n"))

	consumed, err := f.engine.DetectFromEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("DetectFromEmail: %v", err)
	}
	if !consumed {
		t.Fatal("declaration not consumed")
	}

	w := f.windows.single(t)
	if w.Title != "Database cluster upgrade" {
		t.Errorf("title = %q", w.Title)
	}
	if w.SuppressMode != domain.SuppressDowngrade {
		t.Errorf("mode = %v", w.SuppressMode)
	}
	if got := w.Scope["host"]; len(got) != 1 || got[0] != "db-*" {
		t.Errorf("scope host = %v", got)
	}
	loc, _ := time.LoadLocation("Europe/Stockholm")
	if !w.StartsAt.Equal(time.Date(2026, 5, 12, 22, 0, 0, 0, loc)) {
		t.Errorf("starts_at = %v", w.StartsAt)
	}
	if !w.EndsAt.Equal(time.Date(2026, 5, 13, 2, 0, 0, 0, loc)) {
		t.Errorf("ends_at = %v", w.EndsAt)
	}
	if w.Source != domain.WindowSourceEmail || !w.IsActive {
		t.Errorf("source/active = %v/%v", w.Source, w.IsActive)
	}
	if len(f.publisher.broadcasts) != 1 || f.publisher.broadcasts[0] != out.ChannelWindowInvalidate {
		t.Errorf("broadcasts = %v", f.publisher.broadcasts)
	}
}

func TestDetectFromEmail_NotMaintenance(t *testing.T) {
	f := newEngineFixture()
	email := maintenanceEmail("** PROBLEM ** Host: web-01", "State: CRITICAL")

	consumed, err := f.engine.DetectFromEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("DetectFromEmail: %v", err)
	}
	if consumed {
		t.Error("alert mail consumed as maintenance")
	}
	if len(f.windows.windows) != 0 {
		t.Error("window created from non-maintenance mail")
	}
}

func TestDetectFromEmail_DefaultsWhenSparse(t *testing.T) {
	f := newEngineFixture()
	email := maintenanceEmail("Maintenance: network switch swap", "Scheduled maintenance on the core switch.")

	consumed, err := f.engine.DetectFromEmail(context.Background(), email)
	if err != nil || !consumed {
		t.Fatalf("DetectFromEmail = %v, %v", consumed, err)
	}
	w := f.windows.single(t)
	if w.Title != "Maintenance: network switch swap" {
		t.Errorf("title = %q", w.Title)
	}
	if !w.StartsAt.Equal(email.DateHeader) {
		t.Errorf("starts_at = %v, want date header", w.StartsAt)
	}
	if !w.EndsAt.Equal(w.StartsAt.Add(2 * time.Hour)) {
		t.Errorf("ends_at = %v, want start + 2h default", w.EndsAt)
	}
	if !w.Scope.IsEmpty() {
		t.Errorf("scope = %v, want empty", w.Scope)
	}
	if w.SuppressMode != domain.SuppressMute {
		t.Errorf("mode = %v, want mute default", w.SuppressMode)
	}
}

func TestDetectFromEmail_ICSOverridesBody(t *testing.T) {
	f := newEngineFixture()
	email := maintenanceEmail("[Maintenance] quarterly patching", strings.Join([]string{
		"Start: 2026-05-12 08:00",
		"End: 2026-05-12 09:00",
		"Scope: host=app-*",
	}, "\n"))
	email.ICSPayload = strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:patch-q2@ops.example.com",
		"SUMMARY:Quarterly patching",
		"DTSTART:20260512T220000Z",
		"DTEND:20260513T000000Z",
		"RRULE:FREQ=WEEKLY",
		"END:VEVENT",
	}, "\n")

	consumed, err := f.engine.DetectFromEmail(context.Background(), email)
	if err != nil || !consumed {
		t.Fatalf("DetectFromEmail = %v, %v", consumed, err)
	}
	w := f.windows.single(t)
	if !w.StartsAt.Equal(time.Date(2026, 5, 12, 22, 0, 0, 0, time.UTC)) {
		t.Errorf("starts_at = %v, want ICS value", w.StartsAt)
	}
	if w.ExternalEventID != "patch-q2@ops.example.com" {
		t.Errorf("external id = %q", w.ExternalEventID)
	}
	if !w.IsRecurring || w.RecurrenceRule != "FREQ=WEEKLY" {
		t.Errorf("recurrence = %v %q", w.IsRecurring, w.RecurrenceRule)
	}
	// Body scope survives; ICS has none.
	if got := w.Scope["host"]; len(got) != 1 || got[0] != "app-*" {
		t.Errorf("scope host = %v", got)
	}
}

func TestDetectFromEmail_ICSCancellation(t *testing.T) {
	f := newEngineFixture()
	existing := &domain.MaintenanceWindow{
		ID:              uuid.New(),
		Source:          domain.WindowSourceEmail,
		ExternalEventID: "patch-q2@ops.example.com",
		IsActive:        true,
		StartsAt:        engineNow,
		EndsAt:          engineNow.Add(time.Hour),
	}
	f.windows.windows[existing.ID] = existing

	email := maintenanceEmail("Cancelled: quarterly patching", "")
	email.ICSPayload = strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:patch-q2@ops.example.com",
		"STATUS:CANCELLED",
		"END:VEVENT",
	}, "\n")

	consumed, err := f.engine.DetectFromEmail(context.Background(), email)
	if err != nil || !consumed {
		t.Fatalf("DetectFromEmail = %v, %v", consumed, err)
	}
	if len(f.windows.deactivated) != 1 || f.windows.deactivated[0] != "patch-q2@ops.example.com" {
		t.Errorf("deactivated = %v", f.windows.deactivated)
	}
	if existing.IsActive {
		t.Error("window still active after cancellation")
	}
}

// ===== Suppression tests =====

func activeWindow(mode domain.SuppressMode, scope domain.Scope) *domain.MaintenanceWindow {
	return &domain.MaintenanceWindow{
		ID:           uuid.New(),
		Source:       domain.WindowSourceManual,
		Title:        "window",
		StartsAt:     engineNow.Add(-time.Hour),
		EndsAt:       engineNow.Add(time.Hour),
		Scope:        scope,
		SuppressMode: mode,
		IsActive:     true,
	}
}

func firingEvent(host string) *domain.AlertEvent {
	return &domain.AlertEvent{
		ID:         uuid.New(),
		Host:       host,
		Service:    "http",
		Severity:   domain.SeverityCritical,
		State:      domain.StateFiring,
		OccurredAt: engineNow,
	}
}

func TestApplyToEvent_Mute(t *testing.T) {
	f := newEngineFixture()
	w := activeWindow(domain.SuppressMute, domain.Scope{"host": {"web-*"}})
	f.windows.windows[w.ID] = w

	ev := firingEvent("web-01")
	if err := f.engine.ApplyToEvent(context.Background(), ev); err != nil {
		t.Fatalf("ApplyToEvent: %v", err)
	}
	if !ev.IsSuppressed {
		t.Error("event not suppressed")
	}
	if len(f.windows.matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(f.windows.matches))
	}
	m := f.windows.matches[0]
	if m.WindowID != w.ID || m.AlertEventID != ev.ID {
		t.Errorf("match = %+v", m)
	}
	var reason struct {
		Reasons []domain.MatchReason `json:"reasons"`
	}
	if err := json.Unmarshal(m.MatchReason, &reason); err != nil {
		t.Fatalf("unmarshal match reason: %v", err)
	}
	if len(reason.Reasons) != 1 || reason.Reasons[0].Pattern != "web-*" || reason.Reasons[0].Value != "web-01" {
		t.Errorf("reasons = %+v", reason.Reasons)
	}
}

func TestApplyToEvent_Downgrade(t *testing.T) {
	f := newEngineFixture()
	w := activeWindow(domain.SuppressDowngrade, domain.Scope{"host": {"web-*"}})
	f.windows.windows[w.ID] = w

	ev := firingEvent("web-01")
	if err := f.engine.ApplyToEvent(context.Background(), ev); err != nil {
		t.Fatalf("ApplyToEvent: %v", err)
	}
	if ev.IsSuppressed {
		t.Error("downgrade must not suppress")
	}
	if ev.Severity != domain.SeverityHigh {
		t.Errorf("severity = %v, want high (one step down)", ev.Severity)
	}
	var payload map[string]any
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["original_severity"] != "critical" {
		t.Errorf("payload = %v, want original_severity critical", payload)
	}
}

func TestApplyToEvent_NoMatch(t *testing.T) {
	f := newEngineFixture()
	scopeless := activeWindow(domain.SuppressMute, domain.Scope{})
	other := activeWindow(domain.SuppressMute, domain.Scope{"host": {"db-*"}})
	expired := activeWindow(domain.SuppressMute, domain.Scope{"host": {"web-*"}})
	expired.EndsAt = engineNow.Add(-time.Minute)
	for _, w := range []*domain.MaintenanceWindow{scopeless, other, expired} {
		f.windows.windows[w.ID] = w
	}

	ev := firingEvent("web-01")
	if err := f.engine.ApplyToEvent(context.Background(), ev); err != nil {
		t.Fatalf("ApplyToEvent: %v", err)
	}
	if ev.IsSuppressed {
		t.Error("event suppressed without a matching window")
	}
	if len(f.windows.matches) != 0 {
		t.Errorf("matches = %d, want 0", len(f.windows.matches))
	}
}

func TestActiveWindows_CacheAndInvalidate(t *testing.T) {
	f := newEngineFixture()
	w := activeWindow(domain.SuppressMute, domain.Scope{"host": {"web-*"}})
	f.windows.windows[w.ID] = w

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := f.engine.ApplyToEvent(ctx, firingEvent("web-01")); err != nil {
			t.Fatalf("ApplyToEvent: %v", err)
		}
	}
	if f.windows.listCalls != 1 {
		t.Errorf("list calls = %d, want 1 (cached)", f.windows.listCalls)
	}

	f.engine.Invalidate()
	if err := f.engine.ApplyToEvent(ctx, firingEvent("web-01")); err != nil {
		t.Fatalf("ApplyToEvent: %v", err)
	}
	if f.windows.listCalls != 2 {
		t.Errorf("list calls = %d, want 2 after invalidation", f.windows.listCalls)
	}
}

// ===== Tick tests =====

func TestTick_MatchesLiveIncidents(t *testing.T) {
	f := newEngineFixture()
	w := activeWindow(domain.SuppressMute, domain.Scope{"host": {"web-*"}})
	f.windows.windows[w.ID] = w

	matching := domain.Incident{ID: uuid.New(), Host: "web-01", Status: domain.IncidentOpen}
	other := domain.Incident{ID: uuid.New(), Host: "db-01", Status: domain.IncidentOpen}
	already := domain.Incident{ID: uuid.New(), Host: "web-02", Status: domain.IncidentOpen, IsInMaintenance: true}
	f.incidents.live = []domain.Incident{matching, other, already}

	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok := f.incidents.flagged[matching.ID]; !ok {
		t.Error("matching incident not flagged")
	}
	if _, ok := f.incidents.flagged[other.ID]; ok {
		t.Error("non-matching incident flagged")
	}
	if _, ok := f.incidents.flagged[already.ID]; ok {
		t.Error("already-flagged incident re-flagged")
	}
	if f.incidents.clearCalls != 1 {
		t.Errorf("clear calls = %d, want 1", f.incidents.clearCalls)
	}
	found := false
	for _, m := range f.windows.matches {
		if m.IncidentID == matching.ID && m.WindowID == w.ID {
			found = true
		}
	}
	if !found {
		t.Error("no match row for flagged incident")
	}
}

func TestTick_RollsRecurringWindows(t *testing.T) {
	f := newEngineFixture()
	w := activeWindow(domain.SuppressMute, domain.Scope{"host": {"web-*"}})
	w.StartsAt = engineNow.Add(-26 * time.Hour)
	w.EndsAt = engineNow.Add(-24 * time.Hour)
	w.IsRecurring = true
	w.RecurrenceRule = "FREQ=DAILY"
	f.windows.windows[w.ID] = w

	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	rolled := f.windows.windows[w.ID]
	if !rolled.EndsAt.After(engineNow) {
		t.Errorf("window not rolled forward: ends %v", rolled.EndsAt)
	}
	if !rolled.IsActive {
		t.Error("rolled window deactivated")
	}
}

func TestTick_DeactivatesExhaustedRecurrence(t *testing.T) {
	f := newEngineFixture()
	w := activeWindow(domain.SuppressMute, domain.Scope{"host": {"web-*"}})
	w.StartsAt = engineNow.Add(-100 * time.Hour)
	w.EndsAt = engineNow.Add(-98 * time.Hour)
	w.IsRecurring = true
	w.RecurrenceRule = "FREQ=DAILY;COUNT=2"
	f.windows.windows[w.ID] = w

	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.windows.windows[w.ID].IsActive {
		t.Error("exhausted recurring window still active")
	}
}
