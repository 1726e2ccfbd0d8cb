package correlate

import (
	"context"
	"time"
)

// AutoResolveStale closes live incidents silent for longer than
// olderThan whose last state is not firing, with resolution reason
// silence_timeout. Returns the number of incidents resolved.
func (s *Service) AutoResolveStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.incidents.AutoResolveStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("auto-resolved %d stale incidents (silent > %s)", n, olderThan)
	}
	return n, nil
}

// FinishQuiescent completes resolving-state incidents whose quiet period
// has elapsed without a new firing event.
func (s *Service) FinishQuiescent(ctx context.Context) (int64, error) {
	n, err := s.incidents.ResolveQuiescent(ctx, s.opts.ResolveQuietPeriod)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("resolved %d quiescent incidents", n)
	}
	return n, nil
}
