package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"maintenance-push-backend/config"
	"maintenance-push-backend/internal/logging"
	"maintenance-push-backend/internal/model"
	"maintenance-push-backend/internal/store"
)

// Config is the delivery policy of an Engine.
type Config struct {
	Enabled        bool
	PublicKey      string
	PrivateKey     string
	Subject        string
	TTL            int
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	Fanout         int
	ActiveWindow   time.Duration
	Defaults       Defaults
}

// ConfigFromPush maps the push section of the application config.
func ConfigFromPush(p config.PushConfig) Config {
	return Config{
		Enabled:        p.IsEnabled(),
		PublicKey:      p.PublicKey,
		PrivateKey:     p.PrivateKey,
		Subject:        p.Subject,
		TTL:            p.TTL,
		MaxAttempts:    p.MaxAttempts,
		BackoffBase:    p.BackoffBase(),
		AttemptTimeout: p.AttemptTimeout(),
		Fanout:         p.Fanout,
		ActiveWindow:   p.ActiveWindow(),
		Defaults: Defaults{
			Title: p.DefaultTitle,
			Body:  p.DefaultBody,
			Icon:  p.DefaultIcon,
		},
	}
}

// SendOptions tune a single Send call.
type SendOptions struct {
	// SkipQueue delivers without writing a pending notification first.
	SkipQueue bool
	// ExcludeEndpoints are not targeted by this call.
	ExcludeEndpoints []string
	// ContextRef ties the notification to a caller entity such as a ticket.
	ContextRef string
	// DedupWindow skips the send when ContextRef was delivered this recently.
	DedupWindow time.Duration
}

// Result summarizes one delivery cycle.
type Result struct {
	Success     bool `json:"success"`
	SentCount   int  `json:"sentCount"`
	FailedCount int  `json:"failedCount"`
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeGone
	outcomeFailed
)

// Engine delivers notifications to every active subscription of a user.
type Engine struct {
	store   store.Store
	sender  Sender
	cfg     Config
	options *webpush.Options
	log     zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	// inflight holds the ids of queued notifications a Send is delivering.
	inflight sync.Map
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSender replaces the web push transport.
func WithSender(s Sender) EngineOption {
	return func(e *Engine) { e.sender = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the backoff wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine creates a delivery engine backed by st.
func NewEngine(st store.Store, cfg Config, log zerolog.Logger, opts ...EngineOption) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 1
	}
	e := &Engine{
		store:  st,
		sender: &WebPushSender{},
		cfg:    cfg,
		options: &webpush.Options{
			Subscriber:      cfg.Subject,
			VAPIDPublicKey:  cfg.PublicKey,
			VAPIDPrivateKey: cfg.PrivateKey,
			TTL:             cfg.TTL,
		},
		log:   log.With().Str("component", "delivery").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ready reports whether push is enabled and VAPID keys are configured.
func (e *Engine) Ready() bool {
	return e.cfg.Enabled && e.cfg.PublicKey != "" && e.cfg.PrivateKey != ""
}

// PublicKey is the VAPID application server key handed to browsers.
func (e *Engine) PublicKey() string {
	return e.cfg.PublicKey
}

// Send queues the notification and delivers it to the user's active
// subscriptions. It never returns an error: failures end up in the result,
// the log and the delivery log. Cancelling ctx does not stop the delivery;
// each transport attempt is bounded by the attempt timeout instead.
func (e *Engine) Send(ctx context.Context, userID int64, p Payload, opts SendOptions) (res Result) {
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			e.recordError(ctx, userID, opts.ContextRef, fmt.Errorf("panic: %v", r), debug.Stack())
			res = Result{}
		}
	}()

	if !e.cfg.Enabled {
		e.log.Debug().Int64("user_id", userID).Msg("push disabled, skipping")
		return Result{}
	}
	if e.cfg.PublicKey == "" || e.cfg.PrivateKey == "" {
		e.log.Error().Int64("user_id", userID).Msg("VAPID keys not configured, skipping")
		return Result{}
	}

	if opts.ContextRef != "" && opts.DedupWindow > 0 {
		recent, err := e.store.RecentDeliverySuccess(ctx, userID, opts.ContextRef, e.now().Add(-opts.DedupWindow))
		if err != nil {
			e.log.Warn().Err(err).Int64("user_id", userID).Msg("dedup check failed, sending anyway")
		} else if recent {
			e.log.Debug().Int64("user_id", userID).Str("context_ref", opts.ContextRef).Msg("recently notified, skipping")
			return Result{}
		}
	}

	p = Sanitize(p, e.cfg.Defaults)

	var notificationID int64
	if !opts.SkipQueue {
		n := toPending(userID, p, opts.ContextRef)
		if err := e.store.EnqueuePending(ctx, n); err != nil {
			e.recordError(ctx, userID, opts.ContextRef, err, nil)
			return Result{}
		}
		notificationID = n.ID
		e.inflight.Store(notificationID, struct{}{})
		defer e.inflight.Delete(notificationID)
	}

	res = e.deliver(ctx, userID, notificationID, p, opts.ExcludeEndpoints, opts.ContextRef)
	if res.SentCount > 0 && notificationID != 0 {
		e.complete(ctx, userID, notificationID)
	}
	return res
}

// delivering reports whether a Send is still working on notificationID.
func (e *Engine) delivering(notificationID int64) bool {
	_, ok := e.inflight.Load(notificationID)
	return ok
}

// deliver sends p to every active subscription not in exclude. When
// notificationID is set each success is recorded against it.
func (e *Engine) deliver(ctx context.Context, userID, notificationID int64, p Payload, exclude []string, contextRef string) Result {
	subscriptions, err := e.store.ListActiveSubscriptions(ctx, userID, e.now().Add(-e.cfg.ActiveWindow))
	if err != nil {
		e.recordError(ctx, userID, contextRef, err, nil)
		return Result{}
	}
	subscriptions = withoutEndpoints(subscriptions, exclude)
	if len(subscriptions) == 0 {
		e.log.Info().Int64("user_id", userID).Int64("notification_id", notificationID).Msg("no active push subscriptions")
		return Result{}
	}

	message, err := json.Marshal(p)
	if err != nil {
		e.recordError(ctx, userID, contextRef, fmt.Errorf("failed to encode payload: %w", err), nil)
		return Result{}
	}

	var (
		mu  sync.Mutex
		res Result
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Fanout)
	for _, sub := range subscriptions {
		sub := sub
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					e.recordError(ctx, userID, contextRef, fmt.Errorf("panic delivering to %s: %v", logging.Endpoint(sub.Endpoint), r), debug.Stack())
				}
			}()

			switch e.deliverOne(ctx, userID, notificationID, sub, message, contextRef) {
			case outcomeDelivered:
				mu.Lock()
				res.SentCount++
				mu.Unlock()
			case outcomeFailed:
				mu.Lock()
				res.FailedCount++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Success = res.SentCount > 0
	e.log.Info().
		Int64("user_id", userID).
		Int64("notification_id", notificationID).
		Int("sent", res.SentCount).
		Int("failed", res.FailedCount).
		Msg("delivery cycle finished")
	return res
}

func (e *Engine) deliverOne(ctx context.Context, userID, notificationID int64, sub model.PushSubscription, message []byte, contextRef string) outcome {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}
	endpoint := logging.Endpoint(sub.Endpoint)

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.cfg.BackoffBase*time.Duration(1<<(attempt-1))); err != nil {
				lastErr = err
				break
			}
		}

		status, err := e.attempt(ctx, target, message)
		if err == nil && status >= 200 && status < 300 {
			e.onDelivered(ctx, userID, notificationID, sub.Endpoint, contextRef)
			e.log.Debug().Int64("user_id", userID).Str("endpoint", endpoint).Int("attempt", attempt+1).Msg("push delivered")
			return outcomeDelivered
		}
		if status == http.StatusGone {
			e.log.Info().Int64("user_id", userID).Str("endpoint", endpoint).Msg("subscription expired, deleting")
			if err := e.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
				e.log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to delete expired subscription")
			}
			return outcomeGone
		}
		if err == nil {
			err = fmt.Errorf("push service responded with status %d", status)
		}
		lastErr = err
		e.log.Warn().Err(err).Int64("user_id", userID).Str("endpoint", endpoint).Int("attempt", attempt+1).Msg("push attempt failed")
	}

	e.appendLog(ctx, &model.DeliveryLog{
		UserID:       userID,
		ContextRef:   contextRef,
		Status:       model.DeliveryFailed,
		ErrorMessage: fmt.Sprintf("%s: %v", endpoint, lastErr),
	})
	return outcomeFailed
}

// attempt performs one bounded request and returns the HTTP status.
func (e *Engine) attempt(ctx context.Context, target *webpush.Subscription, message []byte) (int, error) {
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	resp, err := e.sender.Send(ctx, message, target, e.options)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// onDelivered records a confirmed push. The device already has the
// notification, so the writes must not be lost to a cancelled ctx.
func (e *Engine) onDelivered(ctx context.Context, userID, notificationID int64, endpoint, contextRef string) {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	if err := e.store.TouchSubscription(ctx, endpoint, now); err != nil {
		e.log.Warn().Err(err).Str("endpoint", logging.Endpoint(endpoint)).Msg("failed to update last_used")
	}
	if notificationID != 0 {
		if err := e.store.RecordDelivery(ctx, notificationID, endpoint, now); err != nil {
			e.log.Error().Err(err).Int64("notification_id", notificationID).Msg("failed to record delivery")
		}
	}
	e.appendLog(ctx, &model.DeliveryLog{
		UserID:     userID,
		ContextRef: contextRef,
		Status:     model.DeliverySuccess,
	})
}

// complete removes the notification once every active endpoint confirmed it.
func (e *Engine) complete(ctx context.Context, userID, notificationID int64) bool {
	done, err := e.store.CompletePending(ctx, notificationID, userID, e.now().Add(-e.cfg.ActiveWindow))
	if err != nil {
		e.log.Error().Err(err).Int64("notification_id", notificationID).Msg("failed to complete pending notification")
		return false
	}
	if done {
		e.log.Debug().Int64("notification_id", notificationID).Msg("pending notification fully delivered")
	}
	return done
}

func (e *Engine) recordError(ctx context.Context, userID int64, contextRef string, err error, stack []byte) {
	ev := e.log.Error().Err(err).Int64("user_id", userID)
	if stack != nil {
		ev = ev.Bytes("stack", stack)
	}
	ev.Msg("push delivery error")
	e.appendLog(ctx, &model.DeliveryLog{
		UserID:       userID,
		ContextRef:   contextRef,
		Status:       model.DeliveryError,
		ErrorMessage: err.Error(),
	})
}

func (e *Engine) appendLog(ctx context.Context, entry *model.DeliveryLog) {
	entry.CreatedAt = e.now()
	if err := e.store.AppendDeliveryLog(ctx, entry); err != nil {
		e.log.Warn().Err(err).Int64("user_id", entry.UserID).Msg("failed to write delivery log")
	}
}

func withoutEndpoints(subs []model.PushSubscription, exclude []string) []model.PushSubscription {
	if len(exclude) == 0 {
		return subs
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	out := subs[:0:0]
	for _, s := range subs {
		if _, ok := skip[s.Endpoint]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
