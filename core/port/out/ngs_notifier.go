package out

import (
	"context"
	"time"

	"github.com/kapella-hub/ngs/core/domain"
)

// NotificationKind distinguishes why a notification fires.
type NotificationKind string

const (
	NotifyIncidentCreated   NotificationKind = "incident_created"
	NotifySeverityEscalated NotificationKind = "severity_escalated"
	NotifyIncidentResolved  NotificationKind = "incident_resolved"
)

// Notification is the payload handed to a notification sink.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	IncidentID string           `json:"incident_id"`
	Title      string           `json:"title"`
	Severity   domain.Severity  `json:"severity"`
	State      string           `json:"state"`
	Host       string           `json:"host,omitempty"`
	Service    string           `json:"service,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NotificationSink delivers notifications. Delivery failures must not
// fail the correlator transaction; sinks are fire-and-forget from the
// caller's perspective.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}
