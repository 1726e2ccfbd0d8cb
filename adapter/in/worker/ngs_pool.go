package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
	"github.com/kapella-hub/ngs/pkg/metrics"
)

// PoolConfig holds worker pool tunables.
type PoolConfig struct {
	Workers          int
	WorkerChanSize   int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		WorkerChanSize: 100,
		JobTimeout:     60 * time.Second,
		JobTimeoutByType: map[JobType]time.Duration{
			// Parsing may wait on the LLM; correlation is DB-bound.
			JobEmailParse:     90 * time.Second,
			JobEventCorrelate: 30 * time.Second,
		},
		MaxRetries:  5,
		BackoffBase: 30 * time.Second,
		BackoffCap:  time.Hour,
	}
}

// PoolMetrics holds processing counters.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsDeadLetter int64
}

type jobWorker struct {
	pool *Pool
}

func (w *jobWorker) Do(ctx context.Context, job *Job) error {
	return w.pool.processJob(ctx, job)
}

// Pool runs pipeline jobs on a go-pkgz worker group. Transient failures
// are dead-lettered with a retry schedule; data and invariant failures
// are dead-lettered immediately with no retries left.
type Pool struct {
	handler *Handler
	dlq     out.DLQRepository
	config  *PoolConfig

	group *pool.WorkerGroup[*Job]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	latency *metrics.LatencySet
	log     *logger.Logger

	started bool
	mu      sync.Mutex
}

func NewPool(handler *Handler, dlq out.DLQRepository, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		dlq:     dlq,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		latency: metrics.NewLatencySet(1000),
		log:     logger.WithComponent("worker_pool"),
	}
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	p.group = pool.New[*Job](p.config.Workers, &jobWorker{pool: p}).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		return err
	}
	p.started = true
	p.log.Info("worker pool started with %d workers", p.config.Workers)
	return nil
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	group := p.group
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := group.Close(closeCtx); err != nil {
		p.log.WithError(err).Warn("worker pool close")
	}
	p.cancel()

	p.log.Info("worker pool stopped, processed=%d failed=%d dead_lettered=%d",
		atomic.LoadInt64(&p.metrics.JobsProcessed),
		atomic.LoadInt64(&p.metrics.JobsFailed),
		atomic.LoadInt64(&p.metrics.JobsDeadLetter))
}

// Submit queues a job. Returns false when the pool is not running.
func (p *Pool) Submit(job *Job) bool {
	p.mu.Lock()
	started := p.started
	group := p.group
	p.mu.Unlock()

	if !started || group == nil {
		return false
	}
	group.Submit(job)
	return true
}

func (p *Pool) jobTimeout(jobType JobType) time.Duration {
	if t, ok := p.config.JobTimeoutByType[jobType]; ok {
		return t
	}
	return p.config.JobTimeout
}

// processJob runs one job with its type timeout and routes failures to
// the dead-letter queue. The DLQ sweeper owns retries from there; the
// pool itself never blocks on backoff.
func (p *Pool) processJob(ctx context.Context, job *Job) error {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout(job.Type))
	err := p.handler.Process(jobCtx, job)
	cancel()

	p.latency.Record(job.Type, time.Since(start))

	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		return nil
	}

	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	p.log.WithError(err).Error("job %s (%s) failed", job.ID, job.Type)
	p.deadLetter(job, err)
	return err
}

// deadLetter persists a failed job. Retryable failures get a backoff
// schedule; everything else arrives with its retry budget spent.
func (p *Pool) deadLetter(job *Job, jobErr error) {
	retryCount := job.Retries
	maxRetries := p.config.MaxRetries
	if !apperr.IsRetryable(jobErr) {
		retryCount = maxRetries
	}

	entry := &domain.DeadLetterEntry{
		ID:          uuid.New(),
		EventType:   job.Type,
		Payload:     job.Payload,
		Error:       jobErr.Error(),
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		NextRetryAt: time.Now().Add(domain.NextBackoff(p.config.BackoffBase, p.config.BackoffCap, retryCount)),
		Status:      domain.DLQPending,
	}
	if retryCount >= maxRetries {
		entry.Status = domain.DLQFailed
	}

	// Detached context: the job context may already be past its deadline.
	insertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.dlq.Insert(insertCtx, entry); err != nil {
		p.log.WithError(err).Error("dead-letter insert failed for job %s, payload lost", job.ID)
		return
	}
	atomic.AddInt64(&p.metrics.JobsDeadLetter, 1)
}

// Metrics returns a copy of the current counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDeadLetter: atomic.LoadInt64(&p.metrics.JobsDeadLetter),
	}
}

// Latency returns per-job-type latency snapshots over the recent
// window.
func (p *Pool) Latency() map[string]metrics.LatencySnapshot {
	return p.latency.Snapshots()
}
