package worker

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// ReprocessSweeper requeues raw emails stuck in pending. A crash between
// storage and the parse stream, or a lost stream entry, otherwise leaves
// mail unparsed forever.
type ReprocessSweeper struct {
	emails    out.EmailRepository
	publisher out.Publisher

	age       time.Duration
	batchSize int
	log       *logger.Logger
}

func NewReprocessSweeper(emails out.EmailRepository, publisher out.Publisher, age time.Duration, batchSize int) *ReprocessSweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReprocessSweeper{
		emails:    emails,
		publisher: publisher,
		age:       age,
		batchSize: batchSize,
		log:       logger.WithComponent("reprocess_sweeper"),
	}
}

func (s *ReprocessSweeper) Sweep(ctx context.Context) error {
	stuck, err := s.emails.ListPendingOlderThan(ctx, s.age, s.batchSize)
	if err != nil {
		return err
	}
	for i := range stuck {
		payload, _ := json.Marshal(map[string]string{"raw_email_id": stuck[i].ID.String()})
		if err := s.publisher.Publish(ctx, out.StreamParse, payload); err != nil {
			return err
		}
	}
	if len(stuck) > 0 {
		s.log.Info("requeued %d stuck pending emails", len(stuck))
	}
	return nil
}
