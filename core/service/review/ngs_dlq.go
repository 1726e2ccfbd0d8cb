package review

import (
	"context"

	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// DLQService exposes the dead-letter queue for inspection and manual
// redispatch.
type DLQService struct {
	dlq       out.DLQRepository
	publisher out.Publisher
	log       *logger.Logger
}

func NewDLQService(dlq out.DLQRepository, publisher out.Publisher) *DLQService {
	return &DLQService{
		dlq:       dlq,
		publisher: publisher,
		log:       logger.WithComponent("dlq-review"),
	}
}

func (s *DLQService) List(ctx context.Context, status domain.DLQStatus, limit, offset int) ([]domain.DeadLetterEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.dlq.List(ctx, status, limit, offset)
}

// Redispatch puts one entry's payload back on its originating stream
// regardless of retry budget. The entry is resolved on successful
// publish; the stream consumer dead-letters it again if it still fails.
func (s *DLQService) Redispatch(ctx context.Context, id uuid.UUID) error {
	entry, err := s.dlq.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == domain.DLQResolved {
		return apperr.Conflict("entry already resolved")
	}

	stream, err := streamForJob(entry.EventType)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, stream, entry.Payload); err != nil {
		return err
	}
	if err := s.dlq.MarkResolved(ctx, id); err != nil {
		return err
	}
	s.log.Info("dlq entry %s (%s) redispatched to %s", id, entry.EventType, stream)
	return nil
}

// streamForJob maps a job type back to the stream it came from.
func streamForJob(eventType string) (string, error) {
	switch eventType {
	case "email.parse":
		return out.StreamParse, nil
	case "event.correlate":
		return out.StreamCorrelate, nil
	default:
		return "", apperr.BadRequest("no stream for job type " + eventType)
	}
}
