// internal/app/system/tasks/runner.go
package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Job is a piece of housekeeping run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner runs registered jobs in the background until stopped.
type Runner struct {
	logger   *zap.Logger
	runs     *prometheus.CounterVec // labels: job, result
	jobs     []Job
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	running  atomic.Int32
	inFlight sync.Map
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunCounter counts finished job runs, labelled by job and result
// ("ok" or "error").
func WithRunCounter(cv *prometheus.CounterVec) Option {
	return func(r *Runner) { r.runs = cv }
}

// NewRunCounter builds and registers the counter used by WithRunCounter.
func NewRunCounter(reg prometheus.Registerer) (*prometheus.CounterVec, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratabook",
		Subsystem: "tasks",
		Name:      "runs_total",
		Help:      "Background job runs by job and result.",
	}, []string{"job", "result"})
	if err := reg.Register(cv); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return cv, nil
}

// New creates a task runner. logger may be nil.
func New(logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a job. Jobs registered after Start are not run.
func (r *Runner) Register(job Job) {
	r.jobs = append(r.jobs, job)
}

// Start launches every registered job. Each job runs once right away and
// then on its interval until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}

	r.logger.Info("background task runner started", zap.Int("job_count", len(r.jobs)))
}

// Stop cancels the jobs and waits for them to return. If ctx ends first the
// names of the jobs still running are logged and ctx.Err() is returned.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("background task runner stopped")
		return nil
	case <-ctx.Done():
		var pending []string
		r.inFlight.Range(func(key, _ any) bool {
			pending = append(pending, key.(string))
			return true
		})
		r.logger.Warn("background task runner shutdown timed out",
			zap.Strings("jobs_still_running", pending),
			zap.Int32("running_count", r.running.Load()))
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	r.execute(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			r.execute(ctx, job)
		}
	}
}

func (r *Runner) execute(ctx context.Context, job Job) {
	r.running.Add(1)
	r.inFlight.Store(job.Name, struct{}{})
	defer func() {
		r.running.Add(-1)
		r.inFlight.Delete(job.Name)
	}()

	start := time.Now()
	err := job.Run(ctx)
	took := zap.Duration("duration", time.Since(start))

	switch {
	case err == nil:
		r.count(job.Name, "ok")
		r.logger.Debug("job completed", zap.String("job", job.Name), took)
	case ctx.Err() != nil:
		// shutting down
		r.logger.Debug("job cancelled", zap.String("job", job.Name), took)
	default:
		r.count(job.Name, "error")
		r.logger.Error("job failed", zap.String("job", job.Name), took, zap.Error(err))
	}
}

func (r *Runner) count(job, result string) {
	if r.runs != nil {
		r.runs.WithLabelValues(job, result).Inc()
	}
}
