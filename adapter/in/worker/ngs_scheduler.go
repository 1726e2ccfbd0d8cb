package worker

import (
	"context"
	"sync"
	"time"

	"github.com/kapella-hub/ngs/pkg/logger"
)

// Task is one periodic unit of background work.
type Task func(ctx context.Context) error

// Scheduler runs a task on a fixed interval until stopped. One
// scheduler per concern keeps sweeper failures isolated.
type Scheduler struct {
	name     string
	interval time.Duration
	task     Task

	maxBackoff time.Duration
	failures   int

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	log  *logger.Logger
}

func NewScheduler(name string, interval time.Duration, task Task) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		stop:     make(chan struct{}),
		log:      logger.WithComponent("scheduler").WithField("task", name),
	}
}

// SetCheckInterval overrides the interval. Call before Start.
func (s *Scheduler) SetCheckInterval(d time.Duration) { s.interval = d }

// SetBackoff stretches the delay after consecutive failures, doubling
// the interval per failure up to max. Off by default; pollers enable it
// so an unreachable mailbox is not hammered on every tick.
func (s *Scheduler) SetBackoff(max time.Duration) { s.maxBackoff = max }

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.interval)
		defer timer.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-timer.C:
				s.runOnce()
				timer.Reset(s.delay())
			}
		}
	}()
	s.log.Info("scheduler started, interval %s", s.interval)
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	if err := s.task(ctx); err != nil {
		s.failures++
		s.log.WithError(err).Warn("scheduled task failed (streak %d)", s.failures)
		return
	}
	s.failures = 0
}

// delay returns the wait before the next run: the base interval, or the
// backed-off interval while a failure streak is active.
func (s *Scheduler) delay() time.Duration {
	if s.maxBackoff <= 0 || s.failures == 0 {
		return s.interval
	}
	return backoffDelay(s.interval, s.maxBackoff, s.failures)
}

// backoffDelay doubles base once per consecutive failure, capped at max.
func backoffDelay(base, max time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return d
}

func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
