// Package scheduler runs periodic maintenance jobs (offline sweep, reading
// retention, tombstone purge, report expiry) each on its own interval,
// serializing overlapping runs of the same job with a skip-if-busy flag
// rather than a queue.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Buchi-dev/puretrack/internal/logging"
)

// Job is one registered periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a set of registered jobs and runs each on its own ticker.
type Scheduler struct {
	mu   sync.Mutex
	jobs []Job
	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{stop: make(chan struct{})}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// Start launches one goroutine per registered job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	defer s.wg.Done()
	log := logging.Component("scheduler").WithField("job", j.Name)

	var busy atomic.Bool
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				log.Debug("skipping tick, previous run still in progress")
				continue
			}
			go func() {
				defer busy.Store(false)
				if err := j.Run(ctx); err != nil {
					log.WithError(err).Warn("scheduled job failed")
				}
			}()
		}
	}
}

// Stop signals every job's ticker loop to exit and waits for those loops to
// return; a job run already in progress is not waited for.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}
