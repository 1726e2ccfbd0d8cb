package worker

import (
	"context"

	"github.com/kapella-hub/ngs/pkg/apperr"
)

// Dispatcher is the stream-facing entry point: it wraps incoming
// payloads into jobs and hands them to the pool. Acceptance by the pool
// is enough to acknowledge the stream entry; from that point the job
// either completes or lands in the dead-letter queue.
type Dispatcher struct {
	pool *Pool
}

func NewDispatcher(pool *Pool) *Dispatcher {
	return &Dispatcher{pool: pool}
}

func (d *Dispatcher) Dispatch(_ context.Context, jobType string, payload []byte) error {
	if !d.pool.Submit(NewJob(jobType, payload)) {
		return apperr.Transient("worker pool not accepting jobs", nil)
	}
	return nil
}
