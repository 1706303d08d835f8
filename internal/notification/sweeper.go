package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"maintenance-push-backend/internal/store"
)

// Sweeper runs the periodic queue maintenance: expiry of stale
// notifications and a replay for every user that still has some.
type Sweeper struct {
	c        *cron.Cron
	store    store.PendingQueue
	replayer replayRunner
	ttl      time.Duration
	log      zerolog.Logger
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSweeper registers both jobs. Schedules use the standard five-field
// syntax or descriptors such as "@hourly" and "@every 10m".
func NewSweeper(st store.PendingQueue, replayer replayRunner, ttl time.Duration, expirySchedule, replaySchedule string, log zerolog.Logger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Sweeper{
		c:        cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		store:    st,
		replayer: replayer,
		ttl:      ttl,
		log:      log.With().Str("component", "sweeper").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.c.AddFunc(expirySchedule, func() { s.ExpireOnce(s.ctx) }); err != nil {
		return nil, fmt.Errorf("invalid expiry schedule %q: %w", expirySchedule, err)
	}
	if _, err := s.c.AddFunc(replaySchedule, func() { s.ReplayAll(s.ctx) }); err != nil {
		return nil, fmt.Errorf("invalid replay schedule %q: %w", replaySchedule, err)
	}
	return s, nil
}

// Start begins running the scheduled jobs.
func (s *Sweeper) Start() {
	s.c.Start()
	s.log.Info().Int("jobs", len(s.c.Entries())).Msg("sweeper started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
	s.log.Info().Msg("sweeper stopped")
}

// ExpireOnce deletes notifications older than the queue TTL.
func (s *Sweeper) ExpireOnce(ctx context.Context) int64 {
	n, err := s.store.ExpirePending(ctx, s.now().Add(-s.ttl))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to expire pending notifications")
		return 0
	}
	if n > 0 {
		s.log.Info().Int64("expired", n).Msg("expired pending notifications")
	}
	return n
}

// ReplayAll replays the queue of every user with pending notifications.
func (s *Sweeper) ReplayAll(ctx context.Context) int {
	users, err := s.store.UsersWithPending(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list users with pending notifications")
		return 0
	}
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		s.replayer.Replay(ctx, userID)
	}
	return len(users)
}
