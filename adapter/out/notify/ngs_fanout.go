package notify

import (
	"context"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// Fanout delivers to every configured sink, filtered by minimum
// severity. Sink failures are logged and swallowed; notification
// delivery never propagates into the correlator path.
type Fanout struct {
	sinks       []out.NotificationSink
	minSeverity domain.Severity
	log         *logger.Logger
}

func NewFanout(minSeverity domain.Severity, sinks ...out.NotificationSink) *Fanout {
	return &Fanout{
		sinks:       sinks,
		minSeverity: minSeverity,
		log:         logger.WithComponent("notify_fanout"),
	}
}

func (f *Fanout) Notify(ctx context.Context, n out.Notification) error {
	// Resolved notices always go out; below-threshold severities are
	// only dropped while firing.
	if n.Kind != out.NotifyIncidentResolved && n.Severity.Rank() < f.minSeverity.Rank() {
		return nil
	}
	for _, sink := range f.sinks {
		if err := sink.Notify(ctx, n); err != nil {
			f.log.WithError(err).Warn("notification delivery failed kind=%s incident=%s", n.Kind, n.IncidentID)
		}
	}
	return nil
}

// Discard is the sink used when no endpoint is configured.
type Discard struct{}

func (Discard) Notify(context.Context, out.Notification) error { return nil }
