package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// Worker defaults.
const (
	DefaultConcurrency        = 4
	DefaultRatePerSecond      = 2
	DefaultBurst              = 2
	DefaultBaseBackoff        = 2 * time.Second
	DefaultMaxBackoff         = 5 * time.Minute
	DefaultPollInterval       = time.Second
	DefaultDrainTimeout       = 30 * time.Second
	DefaultRetentionCompleted = time.Hour
	DefaultRetentionFailed    = 7 * 24 * time.Hour
	DefaultPruneInterval      = 5 * time.Minute
)

// ProgressFunc records a progress checkpoint between 0 and 100.
type ProgressFunc func(pct int)

// Handler processes jobs for the worker.
type Handler interface {
	// Process runs one attempt. Errors wrapped with backoff.Permanent are
	// not retried.
	Process(ctx context.Context, job *Job, progress ProgressFunc) error
	// Failed is called once when a job exhausts its attempts or hits a
	// permanent error.
	Failed(ctx context.Context, job *Job, err error)
}

// WorkerConfig tunes the worker.
type WorkerConfig struct {
	Concurrency   int
	RatePerSecond float64
	Burst         int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	PollInterval  time.Duration
	// JobTimeout bounds one attempt; zero leaves attempts unbounded.
	JobTimeout         time.Duration
	DrainTimeout       time.Duration
	RetentionCompleted time.Duration
	RetentionFailed    time.Duration
	PruneInterval      time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.RetentionCompleted <= 0 {
		c.RetentionCompleted = DefaultRetentionCompleted
	}
	if c.RetentionFailed <= 0 {
		c.RetentionFailed = DefaultRetentionFailed
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = DefaultPruneInterval
	}
	return c
}

// Worker claims jobs and runs them on a bounded pool.
type Worker struct {
	queue   *Queue
	handler Handler
	cfg     WorkerConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWorker creates a worker for q.
func NewWorker(q *Queue, handler Handler, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Worker{
		queue:   q,
		handler: handler,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger.With("component", "worker"),
	}
}

// Run processes jobs until ctx is cancelled. In-flight jobs then keep
// running, detached from ctx, for up to the drain timeout.
func (w *Worker) Run(ctx context.Context) error {
	_, exhausted, err := w.queue.Recover(ctx)
	if err != nil {
		return err
	}
	for _, job := range exhausted {
		w.logger.Error("Job failed", "job_id", job.ID, "attempts", job.Attempts, "error", ErrInterrupted)
		w.handler.Failed(ctx, job, ErrInterrupted)
	}

	pool, err := ants.NewPool(w.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	var (
		inflight sync.WaitGroup
		slots    = make(chan struct{}, w.cfg.Concurrency)
	)

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	go w.pruneLoop(ctx)

	w.logger.Info("Worker started", "concurrency", w.cfg.Concurrency, "rate", w.cfg.RatePerSecond)

loop:
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			break loop
		}

		if err := w.limiter.Wait(ctx); err != nil {
			<-slots
			break loop
		}

		job, err := w.queue.Claim(ctx)
		if err != nil {
			w.logger.Error("Failed to claim job", "error", err)
		}
		if job == nil {
			<-slots
			select {
			case <-ctx.Done():
				break loop
			case <-w.queue.notify:
			case <-poll.C:
			}
			continue
		}

		inflight.Add(1)
		if err := pool.Submit(func() {
			defer func() {
				<-slots
				inflight.Done()
			}()
			w.process(jobCtx, job)
		}); err != nil {
			inflight.Done()
			<-slots
			w.logger.Error("Failed to submit job", "job_id", job.ID, "error", err)
			w.retryOrFail(jobCtx, job, err)
		}
	}

	w.logger.Info("Worker stopping, draining in-flight jobs", "timeout", w.cfg.DrainTimeout)
	if !waitTimeout(&inflight, w.cfg.DrainTimeout) {
		w.logger.Warn("Drain timeout reached, aborting in-flight jobs")
		abort()
		inflight.Wait()
	}
	pool.Release()
	w.logger.Info("Worker stopped")
	return nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	logger := w.logger.With("job_id", job.ID, "attempt", job.Attempts)
	logger.Info("Processing job")
	start := time.Now()

	progress := func(pct int) {
		if err := w.queue.SetProgress(ctx, job.ID, pct); err != nil {
			logger.Warn("Failed to record progress", "progress", pct, "error", err)
		}
	}

	err := w.runHandler(ctx, job, progress)
	if err == nil {
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			logger.Error("Failed to mark job completed", "error", err)
			return
		}
		logger.Info("Job completed", "duration", time.Since(start))
		return
	}

	logger.Warn("Job attempt failed", "error", err, "duration", time.Since(start))
	w.retryOrFail(ctx, job, err)
}

// runHandler converts handler panics into permanent errors.
func (w *Worker) runHandler(ctx context.Context, job *Job, progress ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return w.handler.Process(ctx, job, progress)
}

func (w *Worker) retryOrFail(ctx context.Context, job *Job, err error) {
	var permanent *backoff.PermanentError
	isPermanent := errors.As(err, &permanent)
	if isPermanent {
		err = permanent.Unwrap()
	}

	if isPermanent || job.Attempts >= job.MaxAttempts {
		if qerr := w.queue.Fail(ctx, job.ID, err.Error()); qerr != nil {
			w.logger.Error("Failed to mark job failed", "job_id", job.ID, "error", qerr)
		}
		w.logger.Error("Job failed", "job_id", job.ID, "attempts", job.Attempts, "permanent", isPermanent, "error", err)
		w.handler.Failed(ctx, job, err)
		return
	}

	delay := RetryDelay(w.cfg.BaseBackoff, w.cfg.MaxBackoff, job.Attempts)
	if qerr := w.queue.Retry(ctx, job.ID, err.Error(), w.queue.now().Add(delay)); qerr != nil {
		w.logger.Error("Failed to schedule retry", "job_id", job.ID, "error", qerr)
		return
	}
	w.logger.Info("Job scheduled for retry", "job_id", job.ID, "delay", delay, "next_attempt", job.Attempts+1)
}

func (w *Worker) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		if _, err := w.queue.Prune(ctx, w.cfg.RetentionCompleted, w.cfg.RetentionFailed); err != nil {
			w.logger.Warn("Failed to prune jobs", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RetryDelay is the wait after the given attempt: base doubled per attempt,
// capped at maxDelay, without jitter.
func RetryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	delay := base
	for i := 0; i < max(attempt, 1); i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
