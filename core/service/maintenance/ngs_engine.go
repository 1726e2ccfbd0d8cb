package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// Options carries the maintenance engine tunables.
type Options struct {
	SubjectPrefixes   []string
	CacheTTL          time.Duration
	RecurrenceHorizon time.Duration
	DefaultDuration   time.Duration
}

// Engine detects maintenance windows from mail, suppresses matching
// events, and keeps incident maintenance flags in sync on a periodic
// tick. The active-window list is cached per process with a short TTL
// and invalidated through a broadcast channel on every window write.
type Engine struct {
	windows   out.MaintenanceRepository
	incidents out.IncidentRepository
	publisher out.Publisher

	opts Options
	log  *logger.Logger
	now  func() time.Time

	mu       sync.RWMutex
	cached   []domain.MaintenanceWindow
	cachedAt time.Time
}

func NewEngine(windows out.MaintenanceRepository, incidents out.IncidentRepository, publisher out.Publisher, opts Options) *Engine {
	if len(opts.SubjectPrefixes) == 0 {
		opts.SubjectPrefixes = DefaultSubjectPrefixes
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.RecurrenceHorizon <= 0 {
		opts.RecurrenceHorizon = 90 * 24 * time.Hour
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 2 * time.Hour
	}
	return &Engine{
		windows:   windows,
		incidents: incidents,
		publisher: publisher,
		opts:      opts,
		log:       logger.WithComponent("maintenance"),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// =============================================================================
// Detection
// =============================================================================

// DetectFromEmail consumes the email as a maintenance declaration when
// it looks like one. Returns true when a window was created, updated, or
// cancelled from it.
func (e *Engine) DetectFromEmail(ctx context.Context, email *domain.RawEmail) (bool, error) {
	body := email.BodyText
	if body == "" {
		body = email.BodyHTML
	}
	if !isMaintenanceEmail(email.Subject, body, email.HasCalendarInvite(), e.opts.SubjectPrefixes) {
		return false, nil
	}

	var ics *icsEvent
	if email.HasCalendarInvite() {
		parsed, err := parseICS(email.ICSPayload)
		if err != nil {
			// Bad calendar part; the body form may still carry the window.
			e.log.WithError(err).Warn("unparseable ICS payload in %s", email.ID)
		} else {
			ics = parsed
		}
	}

	if ics != nil && ics.Cancelled {
		if err := e.windows.DeactivateByExternalID(ctx, domain.WindowSourceEmail, ics.UID); err != nil {
			return false, err
		}
		e.log.Info("maintenance window cancelled via ICS uid=%s", ics.UID)
		e.broadcastInvalidate(ctx)
		return true, nil
	}

	window := e.buildWindow(email, body, ics)
	if err := e.windows.Upsert(ctx, window); err != nil {
		return false, err
	}
	e.log.Info("maintenance window %s (%s - %s) from email %s",
		window.Title, window.StartsAt.Format(time.RFC3339), window.EndsAt.Format(time.RFC3339), email.ID)
	e.broadcastInvalidate(ctx)
	return true, nil
}

// buildWindow merges the body form and the calendar invite. Calendar
// start/end and recurrence take precedence over body values.
func (e *Engine) buildWindow(email *domain.RawEmail, body string, ics *icsEvent) *domain.MaintenanceWindow {
	form := parseBodyForm(body)

	w := &domain.MaintenanceWindow{
		ID:                 uuid.New(),
		Source:             domain.WindowSourceEmail,
		Title:              email.Subject,
		Organizer:          email.FromAddress,
		Timezone:           "UTC",
		Scope:              domain.Scope{},
		SuppressMode:       domain.SuppressMute,
		IsActive:           true,
		CreatedFromEmailID: email.ID,
	}

	if form.Title != "" {
		w.Title = form.Title
	}
	if form.Timezone != "" {
		w.Timezone = form.Timezone
	}
	if form.Mode != "" {
		w.SuppressMode = domain.ParseSuppressMode(form.Mode)
	}
	if form.Scope != "" {
		w.Scope = ParseScope(form.Scope)
	}
	if t, ok := parseWindowTime(form.Start, w.Timezone); ok {
		w.StartsAt = t
	}
	if t, ok := parseWindowTime(form.End, w.Timezone); ok {
		w.EndsAt = t
	}

	if ics != nil {
		w.ExternalEventID = ics.UID
		w.StartsAt = ics.Start
		w.EndsAt = ics.End
		if ics.Timezone != "" {
			w.Timezone = ics.Timezone
		}
		if ics.Summary != "" && form.Title == "" {
			w.Title = ics.Summary
		}
		if ics.Organizer != "" {
			w.Organizer = ics.Organizer
		}
		if ics.RRule != "" {
			w.IsRecurring = true
			w.RecurrenceRule = ics.RRule
		}
		if w.Scope.IsEmpty() && ics.Description != "" {
			if form := parseBodyForm(ics.Description); form.Scope != "" {
				w.Scope = ParseScope(form.Scope)
			}
		}
	}

	if w.StartsAt.IsZero() {
		if !email.DateHeader.IsZero() {
			w.StartsAt = email.DateHeader
		} else {
			w.StartsAt = e.now().UTC()
		}
	}
	if w.EndsAt.IsZero() || !w.EndsAt.After(w.StartsAt) {
		w.EndsAt = w.StartsAt.Add(e.opts.DefaultDuration)
	}
	return w
}

// =============================================================================
// Event suppression
// =============================================================================

// ApplyToEvent stamps suppression on an event covered by an active
// window and records a match row per window. Mute and digest suppress
// notifications; downgrade lowers the effective severity one step and
// keeps the original in the payload.
func (e *Engine) ApplyToEvent(ctx context.Context, event *domain.AlertEvent) error {
	windows, err := e.activeWindows(ctx)
	if err != nil {
		return err
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = e.now().UTC()
	}
	target := TargetFromEvent(event)

	for i := range windows {
		w := &windows[i]
		if !w.ActiveAt(at) {
			continue
		}
		reasons, ok := MatchScope(w.Scope, target)
		if !ok {
			continue
		}

		switch w.SuppressMode {
		case domain.SuppressMute:
			event.IsSuppressed = true
			event.SuppressionReason = "maintenance"
		case domain.SuppressDigest:
			event.IsSuppressed = true
			event.SuppressionReason = "maintenance_digest"
		case domain.SuppressDowngrade:
			event.Payload = withPayloadField(event.Payload, "original_severity", string(event.Severity))
			event.Severity = event.Severity.Downgraded()
		}

		if err := e.windows.InsertMatch(ctx, &domain.MaintenanceMatch{
			ID:           uuid.New(),
			WindowID:     w.ID,
			AlertEventID: event.ID,
			MatchReason:  domain.EncodeMatchReasons(reasons),
		}); err != nil {
			e.log.WithError(err).Warn("maintenance match insert failed for window %s", w.ID)
		}
	}
	return nil
}

func withPayloadField(payload json.RawMessage, key, value string) json.RawMessage {
	m := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			m = map[string]any{}
		}
	}
	m[key] = value
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return out
}

// =============================================================================
// Window cache
// =============================================================================

// activeWindows returns the active-window list through the TTL cache.
func (e *Engine) activeWindows(ctx context.Context) ([]domain.MaintenanceWindow, error) {
	e.mu.RLock()
	if e.cached != nil && e.now().Sub(e.cachedAt) < e.opts.CacheTTL {
		windows := e.cached
		e.mu.RUnlock()
		return windows, nil
	}
	e.mu.RUnlock()

	windows, err := e.windows.List(ctx, true, 1000, 0)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cached = windows
	e.cachedAt = e.now()
	e.mu.Unlock()
	return windows, nil
}

// Invalidate drops the cached window list. Called locally after writes
// and remotely via the broadcast channel.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}

func (e *Engine) broadcastInvalidate(ctx context.Context) {
	e.Invalidate()
	if err := e.publisher.Broadcast(ctx, out.ChannelWindowInvalidate, []byte(`{"op":"invalidate"}`)); err != nil {
		e.log.WithError(err).Warn("window invalidation broadcast failed")
	}
}

// =============================================================================
// Periodic tick
// =============================================================================

// Tick advances recurring windows, matches live incidents to active
// windows, and clears expired maintenance flags.
func (e *Engine) Tick(ctx context.Context) error {
	now := e.now().UTC()

	if err := e.rollRecurring(ctx, now); err != nil {
		return err
	}
	if err := e.matchLiveIncidents(ctx, now); err != nil {
		return err
	}
	cleared, err := e.incidents.ClearExpiredMaintenance(ctx, now)
	if err != nil {
		return err
	}
	if cleared > 0 {
		e.log.Info("cleared maintenance flag on %d incidents", cleared)
	}
	return nil
}

// rollRecurring moves expired recurring windows to their next occurrence
// or deactivates them when the rule is exhausted.
func (e *Engine) rollRecurring(ctx context.Context, now time.Time) error {
	windows, err := e.windows.List(ctx, true, 1000, 0)
	if err != nil {
		return err
	}
	changed := false
	for i := range windows {
		w := &windows[i]
		if !w.IsRecurring || w.EndsAt.After(now) {
			continue
		}
		start, end, ok := nextOccurrence(w.RecurrenceRule, w.StartsAt, w.EndsAt, now, e.opts.RecurrenceHorizon)
		if !ok {
			w.IsActive = false
			e.log.Info("recurring window %s exhausted, deactivated", w.ID)
		} else {
			w.StartsAt = start
			w.EndsAt = end
		}
		if err := e.windows.Update(ctx, w); err != nil {
			return err
		}
		changed = true
	}
	if changed {
		e.broadcastInvalidate(ctx)
	}
	return nil
}

func (e *Engine) matchLiveIncidents(ctx context.Context, now time.Time) error {
	active, err := e.windows.ListActiveAt(ctx, now)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}
	incidents, err := e.incidents.ListLive(ctx)
	if err != nil {
		return err
	}

	for i := range incidents {
		inc := &incidents[i]
		if inc.IsInMaintenance {
			continue
		}
		target := TargetFromIncident(inc)
		for j := range active {
			w := &active[j]
			reasons, ok := MatchScope(w.Scope, target)
			if !ok {
				continue
			}
			if err := e.incidents.SetMaintenance(ctx, inc.ID, w.ID, true); err != nil {
				return err
			}
			if err := e.windows.InsertMatch(ctx, &domain.MaintenanceMatch{
				ID:          uuid.New(),
				WindowID:    w.ID,
				IncidentID:  inc.ID,
				MatchReason: domain.EncodeMatchReasons(reasons),
			}); err != nil {
				e.log.WithError(err).Warn("maintenance match insert failed for incident %s", inc.ID)
			}
			break
		}
	}
	return nil
}
