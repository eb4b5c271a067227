// Package queue implements the durable settlement job queue on Redis.
// Jobs are delayed via a sorted set keyed by ready time, dispatched to a
// worker pool, and retried with exponential backoff up to a per-job attempt
// budget. A per-job active lock guarantees at most one in-flight attempt
// per job id.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/metrics"
)

const (
	delayedKey    = "settlement:jobs:delayed"
	activePrefix  = "settlement:jobs:active:"
	activeLockTTL = 5 * time.Minute
	pollInterval  = time.Second
	dispatchBatch = 32
)

// Control-flow sentinels returned by handlers.
var (
	// ErrSkip drops the job without retry or failure accounting. Used for
	// idempotent no-ops such as stale monitor jobs.
	ErrSkip = errors.New("job skipped")

	// ErrAbort drops the job without retry. Used for validation failures
	// that will not self-resolve; the handler has already recorded the
	// terminal outcome.
	ErrAbort = errors.New("job aborted")
)

// Job is the unit dispatched to handlers.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// IsFinalAttempt reports whether no further queue-level retries remain.
func (j *Job) IsFinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// Options control how a job is enqueued.
type Options struct {
	Delay       time.Duration
	Priority    int
	MaxAttempts int
}

// Handler processes a dispatched job. Returning ErrSkip or ErrAbort stops
// retries; any other error re-enqueues the job until attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Queue is a Redis-backed delayed job queue with a worker pool.
type Queue struct {
	rdb     *redis.Client
	logger  *zap.Logger
	workers int

	mu       sync.RWMutex
	handlers map[string]Handler

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a queue over an existing Redis client.
func New(rdb *redis.Client, workers int, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		rdb:      rdb,
		logger:   logger,
		workers:  workers,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

// Register binds a handler to a job name. Must be called before Start.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue schedules a job. Delay postpones dispatch; priority breaks ties
// between jobs that become ready at the same time (higher runs first).
func (q *Queue) Enqueue(ctx context.Context, name, id string, payload interface{}, opts Options) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for job %s: %w", name, err)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	job := &Job{
		ID:          id,
		Name:        name,
		Payload:     raw,
		Priority:    opts.Priority,
		Attempt:     1,
		MaxAttempts: opts.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	return q.push(ctx, job, opts.Delay)
}

func (q *Queue) push(ctx context.Context, job *Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	readyAt := time.Now().Add(delay).UnixMilli()
	// Fold priority into the score so that simultaneously-ready jobs
	// dispatch highest priority first.
	score := float64(readyAt) - float64(job.Priority)
	if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: raw}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	q.logger.Debug("job enqueued",
		zap.String("job", job.Name),
		zap.String("id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay))
	return nil
}

// Start launches the dispatcher and worker pool. It returns immediately;
// workers run until ctx is cancelled or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	jobs := make(chan *Job, q.workers)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(jobs)
		q.dispatchLoop(ctx, jobs)
	}()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range jobs {
				q.runJob(ctx, job)
			}
		}()
	}
}

// Stop signals shutdown and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

func (q *Queue) dispatchLoop(ctx context.Context, jobs chan<- *Job) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			if err := q.dispatchDue(ctx, jobs); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error("failed to dispatch due jobs", zap.Error(err))
			}
		}
	}
}

// dispatchDue pops jobs whose ready time has passed. ZRem acts as the claim:
// only the worker process that removes the member dispatches it.
func (q *Queue) dispatchDue(ctx context.Context, jobs chan<- *Job) error {
	now := float64(time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now), Count: dispatchBatch,
	}).Result()
	if err != nil {
		return err
	}
	if depth, err := q.rdb.ZCard(ctx, delayedKey).Result(); err == nil {
		metrics.QueueDepth.WithLabelValues("delayed").Set(float64(depth))
	}

	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // claimed by another dispatcher
		}
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Error("dropping undecodable job", zap.Error(err))
			continue
		}
		select {
		case jobs <- &job:
		case <-ctx.Done():
			return ctx.Err()
		case <-q.stopCh:
			// Put the claimed job back for the next process.
			return q.push(context.Background(), &job, 0)
		}
	}
	return nil
}

func (q *Queue) runJob(ctx context.Context, job *Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Name]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no handler registered for job", zap.String("job", job.Name))
		return
	}

	// At most one active attempt per job id.
	lockKey := activePrefix + job.ID
	locked, err := q.rdb.SetNX(ctx, lockKey, "1", activeLockTTL).Result()
	if err != nil {
		q.logger.Error("failed to acquire job lock, rescheduling",
			zap.String("id", job.ID), zap.Error(err))
		_ = q.push(ctx, job, pollInterval)
		return
	}
	if !locked {
		q.logger.Warn("job already active, rescheduling",
			zap.String("job", job.Name), zap.String("id", job.ID))
		_ = q.push(ctx, job, pollInterval)
		return
	}
	defer q.rdb.Del(ctx, lockKey)

	err = handler(ctx, job)
	switch {
	case err == nil:
		metrics.JobsProcessed.WithLabelValues(job.Name, "ok").Inc()
	case errors.Is(err, ErrSkip):
		metrics.JobsProcessed.WithLabelValues(job.Name, "skipped").Inc()
		q.logger.Info("job skipped", zap.String("job", job.Name), zap.String("id", job.ID))
	case errors.Is(err, ErrAbort):
		metrics.JobsProcessed.WithLabelValues(job.Name, "failed").Inc()
		q.logger.Warn("job aborted", zap.String("job", job.Name), zap.String("id", job.ID))
	case job.IsFinalAttempt():
		metrics.JobsProcessed.WithLabelValues(job.Name, "failed").Inc()
		q.logger.Error("job exhausted attempts",
			zap.String("job", job.Name),
			zap.String("id", job.ID),
			zap.Int("attempts", job.Attempt),
			zap.Error(err))
	default:
		metrics.JobsProcessed.WithLabelValues(job.Name, "retried").Inc()
		retry := *job
		retry.Attempt++
		delay := NextRetryDelay(retry.Attempt)
		q.logger.Warn("job failed, retrying",
			zap.String("job", job.Name),
			zap.String("id", job.ID),
			zap.Int("next_attempt", retry.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := q.push(ctx, &retry, delay); err != nil {
			q.logger.Error("failed to re-enqueue job", zap.String("id", job.ID), zap.Error(err))
		}
	}
}
