package notification

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReplayJob asks the pool to replay one user's queue.
type ReplayJob struct {
	ID     string
	UserID int64
	Reason string
}

// replayRunner is satisfied by *Replayer.
type replayRunner interface {
	Replay(ctx context.Context, userID int64) ReplayStats
}

// WorkerPool runs replay jobs in the background.
type WorkerPool struct {
	size     int
	jobs     chan ReplayJob
	replayer replayRunner
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool with a bounded job queue.
func NewWorkerPool(size, queueSize int, replayer replayRunner, log zerolog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &WorkerPool{
		size:     size,
		jobs:     make(chan ReplayJob, queueSize),
		replayer: replayer,
		log:      log.With().Str("component", "replay_pool").Logger(),
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.run(ctx, id, job)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

func (wp *WorkerPool) run(ctx context.Context, id int, job ReplayJob) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.Error().
				Str("job_id", job.ID).
				Int64("user_id", job.UserID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("replay job panicked")
		}
	}()
	wp.log.Debug().Int("worker", id).Str("job_id", job.ID).Int64("user_id", job.UserID).Str("reason", job.Reason).Msg("processing replay job")
	wp.replayer.Replay(ctx, job.UserID)
}

// Dispatch enqueues a replay for userID without blocking. It reports false
// when the queue is full; the periodic sweep picks the user up later.
func (wp *WorkerPool) Dispatch(userID int64, reason string) bool {
	job := ReplayJob{ID: uuid.NewString(), UserID: userID, Reason: reason}
	select {
	case wp.jobs <- job:
		return true
	default:
		wp.log.Warn().Int64("user_id", userID).Str("reason", reason).Msg("replay queue full, deferring to sweep")
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan ReplayJob {
	return wp.jobs
}
