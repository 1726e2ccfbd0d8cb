package bootstrap

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/kapella-hub/ngs/adapter/in/worker"
	"github.com/kapella-hub/ngs/config"
	"github.com/kapella-hub/ngs/internal/stream"
	"github.com/kapella-hub/ngs/pkg/logger"
	"github.com/kapella-hub/ngs/pkg/metrics"
	"github.com/kapella-hub/ngs/pkg/snowflake"
)

const (
	quiescentSweepInterval  = 30 * time.Second
	idemCleanupInterval     = time.Hour
	retentionSweepInterval  = 24 * time.Hour
	quarantineRetentionDays = 30
	healthLogInterval       = 5 * time.Minute
	pollBackoffCap          = 15 * time.Minute
)

// Worker is the pipeline process: stream consumers feeding the job
// pool, folder pollers, and the background sweepers.
type Worker struct {
	deps     *Dependencies
	pool     *worker.Pool
	consumer *stream.Consumer

	schedulers []*worker.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	// Job IDs come from the process-wide snowflake generator; the worker
	// slot is the hashed worker name.
	h := fnv.New32a()
	h.Write([]byte(cfg.WorkerID))
	if err := snowflake.Init(int64(h.Sum32() % 1024)); err != nil {
		logger.WithError(err).Warn("snowflake init failed, job ids fall back to uuid")
	}

	handler := worker.NewHandler(deps.Parser, deps.Correlator)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerCount > 0 {
		poolConfig.Workers = cfg.WorkerCount
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.WorkerChanSize = cfg.WorkerQueueSize
	}
	poolConfig.MaxRetries = cfg.DLQMaxRetries
	poolConfig.BackoffBase = cfg.DLQBaseBackoff
	poolConfig.BackoffCap = cfg.DLQCapBackoff

	pool := worker.NewPool(handler, deps.DLQ, poolConfig)
	consumer := stream.NewConsumer(deps.Stream, worker.NewDispatcher(pool), cfg.WorkerID, deps.Maintenance.Invalidate)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		deps:     deps,
		pool:     pool,
		consumer: consumer,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.WithComponent("worker"),
	}

	// Folder pollers, one per folder so a slow mailbox never starves
	// the others.
	pollInterval := deps.Provider.PollInterval()
	if pollInterval <= 0 {
		pollInterval = cfg.PollInterval
	}
	for _, folder := range deps.Ingester.Folders() {
		folder := folder
		// A provider outage backs the poll off exponentially instead of
		// hammering the mailbox on every tick.
		w.addScheduler("poll:"+folder, pollInterval, func(ctx context.Context) error {
			_, err := deps.Ingester.Poll(ctx, folder)
			return err
		}).SetBackoff(pollBackoffCap)
	}

	// Incident sweepers
	w.addScheduler("auto_resolve", cfg.AutoResolveSweep, func(ctx context.Context) error {
		_, err := deps.Correlator.AutoResolveStale(ctx, cfg.AutoResolveAfter)
		return err
	})
	w.addScheduler("resolve_quiescent", quiescentSweepInterval, func(ctx context.Context) error {
		_, err := deps.Correlator.FinishQuiescent(ctx)
		return err
	})

	// Maintenance tick: recurrence roll, live-incident matching, flag
	// expiry.
	w.addScheduler("maintenance_tick", cfg.MaintTick, deps.Maintenance.Tick)

	// Retry and repair sweeps
	dlqSweeper := worker.NewDLQSweeper(deps.DLQ, handler, 0, cfg.DLQBaseBackoff, cfg.DLQCapBackoff)
	w.addScheduler("dlq_sweep", cfg.DLQSweep, dlqSweeper.Sweep)

	reprocess := worker.NewReprocessSweeper(deps.Emails, deps.Publisher, cfg.ReprocessAfter, 0)
	w.addScheduler("reprocess", cfg.ReprocessAfter, reprocess.Sweep)

	// Housekeeping
	w.addScheduler("idempotency_cleanup", idemCleanupInterval, func(ctx context.Context) error {
		_, err := deps.Idem.DeleteExpired(ctx)
		return err
	})
	w.addScheduler("quarantine_cleanup", retentionSweepInterval, func(ctx context.Context) error {
		_, err := deps.Quarantine.DeleteReviewedOlderThan(ctx, quarantineRetentionDays)
		return err
	})
	w.addScheduler("body_retention", retentionSweepInterval, func(ctx context.Context) error {
		_, err := deps.Emails.PurgeBodiesOlderThan(ctx, cfg.RetentionDays)
		return err
	})

	// Periodic pool pressure and job latency log lines. Surfacing these
	// over an endpoint is out of scope, but the logs are enough to spot
	// a saturated DB pool or a slow parse path.
	w.addScheduler("health_log", healthLogInterval, func(ctx context.Context) error {
		dbStats := metrics.ReadPool(deps.SQLDB.DB)
		entry := w.log.WithFields(dbStats.Fields())
		if dbStats.Condition() == metrics.PoolHealthy {
			entry.Debug("db pool")
		} else {
			entry.Warn("db pool under pressure")
		}
		for jobType, snap := range pool.Latency() {
			if snap.Count == 0 {
				continue
			}
			w.log.WithField("job_type", jobType).WithFields(snap.Fields()).Debug("job latency")
		}
		counters := pool.Metrics()
		w.log.Debug("pool counters: processed=%d failed=%d dead_lettered=%d",
			counters.JobsProcessed, counters.JobsFailed, counters.JobsDeadLetter)
		return nil
	})

	return w
}

func (w *Worker) addScheduler(name string, interval time.Duration, task worker.Task) *worker.Scheduler {
	s := worker.NewScheduler(name, interval, task)
	w.schedulers = append(w.schedulers, s)
	return s
}

// Start runs the pool, consumers, and schedulers, then blocks until
// Stop is called.
func (w *Worker) Start() error {
	if err := w.pool.Start(); err != nil {
		return err
	}
	w.consumer.Start(w.ctx)
	for _, s := range w.schedulers {
		s.Start()
	}
	w.log.Info("worker started: provider=%s folders=%v", w.deps.Provider.Name(), w.deps.Ingester.Folders())

	<-w.ctx.Done()
	return nil
}

// Stop cancels the consumers and pollers and drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	for _, s := range w.schedulers {
		s.Stop()
	}
	w.pool.Stop()
}
