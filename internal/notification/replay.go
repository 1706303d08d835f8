package notification

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"maintenance-push-backend/internal/lock"
	"maintenance-push-backend/internal/store"
)

// ReplayStats reports what one replay pass did.
type ReplayStats struct {
	Pending   int  `json:"pending"`
	Sent      int  `json:"sent"`
	Completed int  `json:"completed"`
	Skipped   bool `json:"skipped"`
}

// Replayer redelivers queued notifications to endpoints that have not
// confirmed them yet.
type Replayer struct {
	engine  *Engine
	store   store.Store
	locker  lock.Locker
	lockTTL time.Duration
	log     zerolog.Logger
}

// NewReplayer creates a Replayer. A nil locker means no cross-instance lock.
func NewReplayer(engine *Engine, st store.Store, locker lock.Locker, lockTTL time.Duration, log zerolog.Logger) *Replayer {
	if locker == nil {
		locker = lock.Noop{}
	}
	return &Replayer{
		engine:  engine,
		store:   st,
		locker:  locker,
		lockTTL: lockTTL,
		log:     log.With().Str("component", "replay").Logger(),
	}
}

// Replay walks the user's queue oldest first. It never returns an error;
// problems are logged and the remaining notifications stay queued.
func (r *Replayer) Replay(ctx context.Context, userID int64) (stats ReplayStats) {
	defer func() {
		if rec := recover(); rec != nil {
			r.engine.recordError(ctx, userID, "", fmt.Errorf("panic during replay: %v", rec), debug.Stack())
		}
	}()

	if !r.engine.Ready() {
		stats.Skipped = true
		return stats
	}

	unlock, acquired, err := r.locker.TryLock(ctx, fmt.Sprintf("push:replay:%d", userID), r.lockTTL)
	switch {
	case err != nil:
		r.log.Warn().Err(err).Int64("user_id", userID).Msg("replay lock unavailable, continuing without it")
	case !acquired:
		r.log.Debug().Int64("user_id", userID).Msg("replay already running elsewhere")
		stats.Skipped = true
		return stats
	default:
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to release replay lock")
			}
		}()
	}

	pending, err := r.store.ListPending(ctx, userID)
	if err != nil {
		r.engine.recordError(ctx, userID, "", err, nil)
		return stats
	}
	stats.Pending = len(pending)

	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		if r.engine.delivering(n.ID) {
			r.log.Debug().Int64("user_id", userID).Int64("notification_id", n.ID).Msg("notification still being sent, leaving it queued")
			continue
		}
		delivered, err := r.store.DeliveredEndpoints(ctx, n.ID)
		if err != nil {
			r.engine.recordError(ctx, userID, n.ContextRef, err, nil)
			continue
		}

		res := r.engine.deliver(ctx, userID, n.ID, fromPending(n), delivered, n.ContextRef)
		stats.Sent += res.SentCount

		// A notification that already reached some endpoint can be complete
		// even when nothing new was sent, e.g. after the missing device expired.
		if res.SentCount > 0 || len(delivered) > 0 {
			if r.engine.complete(ctx, userID, n.ID) {
				stats.Completed++
			}
		}
	}

	r.log.Info().
		Int64("user_id", userID).
		Int("pending", stats.Pending).
		Int("sent", stats.Sent).
		Int("completed", stats.Completed).
		Msg("replay finished")
	return stats
}
