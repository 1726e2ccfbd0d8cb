package correlate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// Options carries the correlation tunables.
type Options struct {
	DedupWindow        time.Duration
	FlapThreshold      int
	FlapWindow         time.Duration
	ResolveQuietPeriod time.Duration
}

// Service is the incident state machine. One Apply call processes one
// alert event inside the per-fingerprint lock, so concurrent workers
// serialize per fingerprint and interleave freely across fingerprints.
type Service struct {
	events    out.EventRepository
	incidents out.IncidentRepository
	notifier  out.NotificationSink

	opts Options
	log  *logger.Logger
	now  func() time.Time
}

func NewService(events out.EventRepository, incidents out.IncidentRepository, notifier out.NotificationSink, opts Options) *Service {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 10 * time.Minute
	}
	return &Service{
		events:    events,
		incidents: incidents,
		notifier:  notifier,
		opts:      opts,
		log:       logger.WithComponent("correlator"),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Apply folds one alert event into incident state. Safe to replay: a
// dedup link is recorded instead of double counting when the content
// hash repeats.
func (s *Service) Apply(ctx context.Context, alertEventID uuid.UUID) error {
	event, err := s.events.GetByID(ctx, alertEventID)
	if err != nil {
		return err
	}

	var pending []out.Notification
	err = s.incidents.WithFingerprintLock(ctx, event.FingerprintV2, func(ctx context.Context, tx out.IncidentTx) error {
		incident, err := tx.GetLive(ctx, event.FingerprintV2)
		if err != nil {
			if apperr.ClassOf(err) != apperr.ClassNotFound {
				return err
			}
			incident = nil
		}

		if incident == nil {
			notif, err := s.openIncident(ctx, tx, event)
			if err != nil {
				return err
			}
			pending = notif
			return nil
		}

		notif, err := s.updateIncident(ctx, tx, incident, event)
		if err != nil {
			return err
		}
		pending = notif
		return nil
	})
	if err != nil {
		return err
	}

	// Notifications go out after the transaction commits; a slow or
	// failing sink must not hold the fingerprint lock.
	for _, n := range pending {
		if nerr := s.notifier.Notify(ctx, n); nerr != nil {
			s.log.WithError(nerr).Warn("notification delivery failed for incident %s", n.IncidentID)
		}
	}
	return nil
}

// openIncident handles the no-live-incident case: a firing event opens a
// new incident, a resolve without an incident is dropped (the event row
// itself is already stored).
func (s *Service) openIncident(ctx context.Context, tx out.IncidentTx, event *domain.AlertEvent) ([]out.Notification, error) {
	if event.State == domain.StateResolved {
		s.log.Debug("resolve without live incident for %s, dropped", event.FingerprintV2)
		return nil, nil
	}

	now := s.now().UTC()
	incident := &domain.Incident{
		ID:            uuid.New(),
		FingerprintV2: event.FingerprintV2,
		Title:         domain.NewIncidentTitle(event),

		SourceTool:  event.SourceTool,
		Environment: event.Environment,
		Region:      event.Region,
		Host:        event.Host,
		CheckName:   event.CheckName,
		Service:     event.Service,

		Status:          domain.IncidentOpen,
		SeverityCurrent: event.Severity,
		SeverityMax:     event.Severity,
		LastState:       event.State,

		FirstSeenAt:       event.OccurredAt,
		LastSeenAt:        event.OccurredAt,
		LastFiringAt:      event.OccurredAt,
		LastStateChangeAt: event.OccurredAt,
		EventCount:        1,

		IsInMaintenance: event.IsSuppressed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.Insert(ctx, incident); err != nil {
		return nil, err
	}
	if err := tx.LinkEvent(ctx, &domain.IncidentEvent{
		ID:           uuid.New(),
		IncidentID:   incident.ID,
		AlertEventID: event.ID,
	}); err != nil {
		return nil, err
	}

	if event.IsSuppressed {
		return nil, nil
	}
	return []out.Notification{notificationFor(out.NotifyIncidentCreated, incident, event)}, nil
}

// updateIncident applies one event to an existing live incident.
func (s *Service) updateIncident(ctx context.Context, tx out.IncidentTx, incident *domain.Incident, event *domain.AlertEvent) ([]out.Notification, error) {
	last, err := tx.LastLinkedEvent(ctx, incident.ID)
	if err != nil && apperr.ClassOf(err) != apperr.ClassNotFound {
		return nil, err
	}
	// A repeat only counts as a duplicate while it stays inside the
	// dedup window; an identical alert hours later is real resend noise
	// worth seeing.
	dedup := last != nil && last.ContentHash() == event.ContentHash() &&
		withinWindow(last.OccurredAt, event.OccurredAt, s.opts.DedupWindow)

	if err := tx.LinkEvent(ctx, &domain.IncidentEvent{
		ID:             uuid.New(),
		IncidentID:     incident.ID,
		AlertEventID:   event.ID,
		IsDeduplicated: dedup,
	}); err != nil {
		return nil, err
	}

	t := event.OccurredAt
	incident.EventCount++
	if t.Before(incident.FirstSeenAt) {
		incident.FirstSeenAt = t
	}
	incident.SeverityMax = domain.MaxSeverity(incident.SeverityMax, event.Severity)
	if event.IsSuppressed {
		incident.IsInMaintenance = true
	}

	// An event older than the newest linked one only adjusts counters
	// and bounds: severity-current and last-state always reflect the
	// latest occurred-at, so the final state matches in-order
	// application.
	isLatest := !t.Before(incident.LastSeenAt)
	var notifications []out.Notification
	if isLatest {
		incident.LastSeenAt = t
		notifications = s.advanceState(incident, event)
	} else if event.State == domain.StateFiring && t.After(incident.LastFiringAt) {
		incident.LastFiringAt = t
	}

	incident.UpdatedAt = s.now().UTC()
	if err := tx.Update(ctx, incident); err != nil {
		return nil, err
	}
	if event.IsSuppressed || incident.IsInMaintenance {
		return nil, nil
	}
	return notifications, nil
}

// advanceState runs the in-order part of the state machine: flap
// counting, escalation, and the firing/resolved transitions.
func (s *Service) advanceState(incident *domain.Incident, event *domain.AlertEvent) []out.Notification {
	t := event.OccurredAt
	var notifications []out.Notification

	if event.State != incident.LastState {
		if !incident.LastStateChangeAt.IsZero() && t.Sub(incident.LastStateChangeAt) > s.opts.FlapWindow {
			// Old flap streak aged out of the window.
			incident.FlapCount = 1
		} else {
			incident.FlapCount++
		}
		incident.LastStateChangeAt = t
		if incident.FlapCount >= s.opts.FlapThreshold {
			incident.IsFlapping = true
		}
	}

	previous := incident.SeverityCurrent
	incident.SeverityCurrent = event.Severity
	if event.Severity.Rank() > previous.Rank() && event.Severity.AtLeast(domain.SeverityHigh) {
		incident.LastStateChangeAt = t
		notifications = append(notifications, notificationFor(out.NotifySeverityEscalated, incident, event))
	}

	switch event.State {
	case domain.StateFiring:
		incident.LastState = domain.StateFiring
		incident.LastFiringAt = t
		if incident.Status == domain.IncidentResolving {
			// Firing inside the quiet period reopens.
			incident.Status = domain.IncidentOpen
		}

	case domain.StateResolved:
		incident.LastState = domain.StateResolved
		switch incident.Status {
		case domain.IncidentOpen, domain.IncidentAcknowledged:
			incident.Status = domain.IncidentResolving
		case domain.IncidentResolving:
			if t.Sub(incident.LastFiringAt) >= s.opts.ResolveQuietPeriod {
				incident.Status = domain.IncidentResolved
				incident.ResolvedAt = t
				incident.ResolutionReason = domain.ResolutionExplicitClear
				notifications = append(notifications, notificationFor(out.NotifyIncidentResolved, incident, event))
			}
		}
	}
	return notifications
}

func notificationFor(kind out.NotificationKind, incident *domain.Incident, event *domain.AlertEvent) out.Notification {
	return out.Notification{
		Kind:       kind,
		IncidentID: incident.ID.String(),
		Title:      incident.Title,
		Severity:   incident.SeverityCurrent,
		State:      string(incident.LastState),
		Host:       incident.Host,
		Service:    incident.Service,
		OccurredAt: event.OccurredAt,
	}
}

// withinWindow reports whether two instants lie within d of each other,
// regardless of order.
func withinWindow(a, b time.Time, d time.Duration) bool {
	diff := b.Sub(a)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d
}
