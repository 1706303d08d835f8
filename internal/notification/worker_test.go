package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type recordingReplayer struct {
	mu    sync.Mutex
	users []int64
	panic map[int64]bool
	done  chan int64
}

func newRecordingReplayer() *recordingReplayer {
	return &recordingReplayer{panic: map[int64]bool{}, done: make(chan int64, 16)}
}

func (r *recordingReplayer) Replay(_ context.Context, userID int64) ReplayStats {
	defer func() { r.done <- userID }()
	r.mu.Lock()
	r.users = append(r.users, userID)
	shouldPanic := r.panic[userID]
	r.mu.Unlock()
	if shouldPanic {
		panic("replay exploded")
	}
	return ReplayStats{}
}

func (r *recordingReplayer) Users() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.users...)
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, 4, newRecordingReplayer(), zerolog.Nop())

	// Dispatch a job
	assert.True(t, wp.Dispatch(123, "new_device"))

	// Check if the job is in the channel
	select {
	case job := <-wp.Jobs():
		assert.Equal(t, int64(123), job.UserID)
		assert.Equal(t, "new_device", job.Reason)
		assert.NotEmpty(t, job.ID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchNeverBlocks(t *testing.T) {
	wp := NewWorkerPool(1, 1, newRecordingReplayer(), zerolog.Nop())

	assert.True(t, wp.Dispatch(1, "new_device"))

	done := make(chan bool, 1)
	go func() { done <- wp.Dispatch(2, "new_device") }()

	select {
	case ok := <-done:
		assert.False(t, ok, "a full queue rejects the job")
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	replayer := newRecordingReplayer()
	replayer.panic[13] = true
	wp := NewWorkerPool(1, 4, replayer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	wp.Start(ctx)

	wp.Dispatch(13, "new_device")
	wp.Dispatch(14, "new_device")

	for _, want := range []int64{13, 14} {
		select {
		case got := <-replayer.done:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replay of user %d", want)
		}
	}
	assert.Equal(t, []int64{13, 14}, replayer.Users(), "a panicking job does not stop the worker")

	cancel()
	finished := make(chan struct{})
	go func() {
		wp.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}
