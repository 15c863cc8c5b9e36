// Package queue is a durable, idempotent job queue on badger with a
// rate-limited worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	jobPrefix = "job/"

	// DefaultMaxAttempts is the attempt budget of a job.
	DefaultMaxAttempts = 3

	eventBuffer = 64
)

// Config configures the job store.
type Config struct {
	// Dir is the badger directory. Ignored when InMemory is set.
	Dir         string
	InMemory    bool
	MaxAttempts int
}

// Queue stores jobs in badger. Job ids are document ids, so at most one job
// exists per document.
type Queue struct {
	db          *badger.DB
	maxAttempts int
	now         func() time.Time
	events      chan Event
	notify      chan struct{}
	claimMu     sync.Mutex
	logger      *slog.Logger
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens the job store.
func Open(cfg Config, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("queue directory not set")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Queue{
		db:          db,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		events:      make(chan Event, eventBuffer),
		notify:      make(chan struct{}, 1),
		logger:      logger.With("component", "queue"),
	}, nil
}

// Close closes the store.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Events returns the transition feed. Sends never block; a slow consumer
// loses events.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue adds a job for the payload's document. A waiting or active job
// for the same document makes the call a no-op reported as Duplicate.
// Completed and failed jobs are replaced.
func (q *Queue) Enqueue(ctx context.Context, p Payload) (*Handle, error) {
	if p.DocumentID == "" {
		return nil, fmt.Errorf("%w: missing document id", ErrInvalidPayload)
	}

	var handle *Handle
	err := q.update(func(txn *badger.Txn) error {
		existing, err := getJob(txn, p.DocumentID)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return err
		}
		if existing != nil && (existing.State == StateWaiting || existing.State == StateActive) {
			handle = &Handle{ID: existing.ID, Duplicate: true, State: existing.State}
			return nil
		}

		now := q.now()
		job := &Job{
			ID:          p.DocumentID,
			Payload:     p,
			State:       StateWaiting,
			MaxAttempts: q.maxAttempts,
			NextRunAt:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		handle = &Handle{ID: job.ID, State: StateWaiting}
		return putJob(txn, job)
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", p.DocumentID, err)
	}

	if handle.Duplicate {
		q.logger.Info("Job already queued", "job_id", handle.ID, "state", handle.State)
		q.emit(Event{Type: EventDuplicate, JobID: handle.ID})
	} else {
		q.logger.Info("Job enqueued", "job_id", handle.ID, "bot_id", p.BotID)
		q.emit(Event{Type: EventEnqueued, JobID: handle.ID})
		q.wake()
	}
	return handle, nil
}

// Get loads a job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := q.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = getJob(txn, id)
		return err
	})
	return job, err
}

// Status reports a job's state. Unknown ids yield StateNotFound.
func (q *Queue) Status(ctx context.Context, id string) (Status, error) {
	job, err := q.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return Status{State: StateNotFound}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:         job.State,
		Progress:      job.Progress,
		FailureReason: job.FailureReason,
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		UpdatedAt:     job.UpdatedAt,
	}, nil
}

// Claim activates the waiting job that has been due the longest and counts
// the attempt. It returns nil when nothing is due.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	var claimed *Job
	err := q.update(func(txn *badger.Txn) error {
		claimed = nil
		now := q.now()
		jobs, err := scanJobs(txn)
		if err != nil {
			return err
		}

		var due []*Job
		for _, j := range jobs {
			if j.State == StateWaiting && !j.NextRunAt.After(now) {
				due = append(due, j)
			}
		}
		if len(due) == 0 {
			return nil
		}
		sort.Slice(due, func(a, b int) bool {
			if !due[a].NextRunAt.Equal(due[b].NextRunAt) {
				return due[a].NextRunAt.Before(due[b].NextRunAt)
			}
			return due[a].CreatedAt.Before(due[b].CreatedAt)
		})

		job := due[0]
		job.State = StateActive
		job.Attempts++
		job.Progress = 0
		job.StartedAt = &now
		job.UpdatedAt = now
		claimed = job
		return putJob(txn, job)
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return claimed, nil
}

// SetProgress records a checkpoint. Progress never moves backwards within
// an attempt.
func (q *Queue) SetProgress(ctx context.Context, id string, pct int) error {
	pct = min(max(pct, 0), 100)
	return q.mutate(id, func(job *Job, now time.Time) {
		if pct > job.Progress {
			job.Progress = pct
		}
	})
}

// Complete marks an active job done.
func (q *Queue) Complete(ctx context.Context, id string) error {
	var attempt int
	err := q.mutate(id, func(job *Job, now time.Time) {
		job.State = StateCompleted
		job.Progress = 100
		job.FailureReason = ""
		job.FinishedAt = &now
		attempt = job.Attempts
	})
	if err == nil {
		q.emit(Event{Type: EventCompleted, JobID: id, Attempt: attempt})
	}
	return err
}

// Retry returns a job to waiting, due at next.
func (q *Queue) Retry(ctx context.Context, id, reason string, next time.Time) error {
	var attempt int
	err := q.mutate(id, func(job *Job, now time.Time) {
		job.State = StateWaiting
		job.FailureReason = reason
		job.NextRunAt = next
		attempt = job.Attempts
	})
	if err == nil {
		q.emit(Event{Type: EventRetrying, JobID: id, Attempt: attempt, Err: reason})
		q.wake()
	}
	return err
}

// Fail marks a job permanently failed.
func (q *Queue) Fail(ctx context.Context, id, reason string) error {
	var attempt int
	err := q.mutate(id, func(job *Job, now time.Time) {
		job.State = StateFailed
		job.FailureReason = reason
		job.FinishedAt = &now
		attempt = job.Attempts
	})
	if err == nil {
		q.emit(Event{Type: EventFailed, JobID: id, Attempt: attempt, Err: reason})
	}
	return err
}

// Recover returns jobs left active by a previous process to waiting. The
// interrupted attempt still counts, so jobs that had used their last
// attempt are failed with ErrInterrupted and returned as exhausted.
func (q *Queue) Recover(ctx context.Context) (requeued int, exhausted []*Job, err error) {
	err = q.update(func(txn *badger.Txn) error {
		requeued, exhausted = 0, nil
		jobs, err := scanJobs(txn)
		if err != nil {
			return err
		}
		now := q.now()
		for _, j := range jobs {
			if j.State != StateActive {
				continue
			}
			j.UpdatedAt = now
			if j.Attempts >= j.MaxAttempts {
				j.State = StateFailed
				j.FailureReason = ErrInterrupted.Error()
				j.FinishedAt = &now
				exhausted = append(exhausted, j)
			} else {
				j.State = StateWaiting
				j.NextRunAt = now
				requeued++
			}
			if err := putJob(txn, j); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("recover jobs: %w", err)
	}
	for _, j := range exhausted {
		q.emit(Event{Type: EventFailed, JobID: j.ID, Attempt: j.Attempts, Err: j.FailureReason})
	}
	if requeued > 0 || len(exhausted) > 0 {
		q.logger.Warn("Recovered interrupted jobs", "requeued", requeued, "failed", len(exhausted))
	}
	if requeued > 0 {
		q.wake()
	}
	return requeued, exhausted, nil
}

// Prune deletes completed jobs older than completedAge and failed jobs
// older than failedAge, measured from when they finished.
func (q *Queue) Prune(ctx context.Context, completedAge, failedAge time.Duration) (int, error) {
	pruned := 0
	err := q.update(func(txn *badger.Txn) error {
		pruned = 0
		jobs, err := scanJobs(txn)
		if err != nil {
			return err
		}
		now := q.now()
		for _, j := range jobs {
			finished := j.UpdatedAt
			if j.FinishedAt != nil {
				finished = *j.FinishedAt
			}
			age := now.Sub(finished)
			if (j.State == StateCompleted && age > completedAge) || (j.State == StateFailed && age > failedAge) {
				if err := txn.Delete(jobKey(j.ID)); err != nil {
					return err
				}
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	if pruned > 0 {
		q.logger.Info("Pruned finished jobs", "count", pruned)
	}
	return pruned, nil
}

func (q *Queue) mutate(id string, fn func(job *Job, now time.Time)) error {
	return q.update(func(txn *badger.Txn) error {
		job, err := getJob(txn, id)
		if err != nil {
			return err
		}
		now := q.now()
		fn(job, now)
		job.UpdatedAt = now
		return putJob(txn, job)
	})
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (q *Queue) update(fn func(txn *badger.Txn) error) error {
	for {
		err := q.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func (q *Queue) emit(e Event) {
	if e.At.IsZero() {
		e.At = q.now()
	}
	select {
	case q.events <- e:
	default:
		q.logger.Debug("Event dropped", "type", e.Type, "job_id", e.JobID)
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func jobKey(id string) []byte {
	return []byte(jobPrefix + id)
}

func getJob(txn *badger.Txn, id string) (*Job, error) {
	item, err := txn.Get(jobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func putJob(txn *badger.Txn, job *Job) error {
	val, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return txn.Set(jobKey(job.ID), val)
}

func scanJobs(txn *badger.Txn) ([]*Job, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(jobPrefix)
	iter := txn.NewIterator(opts)
	defer iter.Close()

	var jobs []*Job
	for iter.Rewind(); iter.Valid(); iter.Next() {
		var job Job
		if err := iter.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		}); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Item().Key(), err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}
