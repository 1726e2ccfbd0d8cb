package worker

import (
	"context"
	"time"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// staleClaimAge bounds how long a claimed entry may sit in retrying;
// beyond this the claiming process is assumed dead and the claim is
// handed back.
const staleClaimAge = 15 * time.Minute

// DLQSweeper retries due dead-letter entries through the handler. Claims
// use skip-locked selection so concurrent workers never double-process.
type DLQSweeper struct {
	dlq     out.DLQRepository
	handler *Handler

	batchSize   int
	backoffBase time.Duration
	backoffCap  time.Duration
	log         *logger.Logger
}

func NewDLQSweeper(dlq out.DLQRepository, handler *Handler, batchSize int, backoffBase, backoffCap time.Duration) *DLQSweeper {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &DLQSweeper{
		dlq:         dlq,
		handler:     handler,
		batchSize:   batchSize,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		log:         logger.WithComponent("dlq_sweeper"),
	}
}

// Sweep claims one batch of due entries and retries each in place.
// Claims orphaned by a crashed worker are reclaimed first so they are
// not stranded in retrying forever.
func (s *DLQSweeper) Sweep(ctx context.Context) error {
	if n, err := s.dlq.ReclaimStale(ctx, staleClaimAge); err != nil {
		s.log.WithError(err).Warn("stale claim reclaim failed")
	} else if n > 0 {
		s.log.Info("reclaimed %d stale dlq claims", n)
	}

	entries, err := s.dlq.ClaimDue(ctx, s.batchSize)
	if err != nil {
		return err
	}
	for i := range entries {
		s.retry(ctx, &entries[i])
	}
	return nil
}

func (s *DLQSweeper) retry(ctx context.Context, entry *domain.DeadLetterEntry) {
	job := &Job{
		ID:      entry.ID.String(),
		Type:    entry.EventType,
		Payload: entry.Payload,
		Retries: entry.RetryCount,
	}

	err := s.handler.Process(ctx, job)
	if err == nil {
		if markErr := s.dlq.MarkResolved(ctx, entry.ID); markErr != nil {
			s.log.WithError(markErr).Warn("dlq resolve failed for %s", entry.ID)
		}
		s.log.Info("dlq entry %s (%s) recovered on retry %d", entry.ID, entry.EventType, entry.RetryCount+1)
		return
	}

	next := entry.RetryCount + 1
	if next >= entry.MaxRetries || !apperr.IsRetryable(err) {
		if markErr := s.dlq.MarkFailed(ctx, entry.ID); markErr != nil {
			s.log.WithError(markErr).Warn("dlq fail mark failed for %s", entry.ID)
		}
		s.log.Error("dlq entry %s (%s) exhausted after %d retries: %v", entry.ID, entry.EventType, next, err)
		return
	}

	nextAt := time.Now().Add(domain.NextBackoff(s.backoffBase, s.backoffCap, next))
	if resErr := s.dlq.Reschedule(ctx, entry.ID, next, nextAt, err.Error()); resErr != nil {
		s.log.WithError(resErr).Warn("dlq reschedule failed for %s", entry.ID)
	}
}
