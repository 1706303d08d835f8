package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"maintenance-push-backend/internal/store"
)

var (
	// ErrInvalidInput wraps validation failures of caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned when push is disabled or VAPID keys are missing.
	ErrUnavailable = errors.New("push notifications unavailable")
)

// Dispatcher schedules a background replay for a user.
type Dispatcher interface {
	Dispatch(userID int64, reason string) bool
}

// SubscribeRequest registers a browser subscription for a user.
type SubscribeRequest struct {
	UserID     int64  `validate:"required,gt=0"`
	Endpoint   string `validate:"required,url,max=2048"`
	P256DH     string `validate:"required,max=256"`
	Auth       string `validate:"required,max=256"`
	DeviceType string `validate:"max=64"`
	DeviceName string `validate:"max=128"`
}

// Device is the key-free view of a subscription.
type Device struct {
	Endpoint   string    `json:"endpoint"`
	DeviceType string    `json:"deviceType"`
	DeviceName string    `json:"deviceName"`
	LastUsed   time.Time `json:"lastUsed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Service is the entry point used by the HTTP layer and by other backend
// components that need to notify a user.
type Service struct {
	store      store.Store
	engine     *Engine
	dispatcher Dispatcher
	validate   *validator.Validate
	log        zerolog.Logger
}

// NewService wires the facade. dispatcher may be nil, in which case new
// devices are only served by the periodic sweep.
func NewService(st store.Store, engine *Engine, dispatcher Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		store:      st,
		engine:     engine,
		dispatcher: dispatcher,
		validate:   validator.New(),
		log:        log.With().Str("component", "push_service").Logger(),
	}
}

// Register stores the subscription and, for a device seen for the first
// time, schedules a replay of the user's queue.
func (s *Service) Register(ctx context.Context, req SubscribeRequest) (bool, error) {
	if err := s.validate.Struct(req); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	isNew, err := s.store.RegisterSubscription(ctx, store.RegisterParams{
		UserID:     req.UserID,
		Endpoint:   req.Endpoint,
		P256DH:     req.P256DH,
		Auth:       req.Auth,
		DeviceType: req.DeviceType,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		return false, err
	}

	s.log.Info().Int64("user_id", req.UserID).Bool("new_device", isNew).Str("device_type", req.DeviceType).Msg("push subscription registered")
	if isNew && s.dispatcher != nil {
		s.dispatcher.Dispatch(req.UserID, "new_device")
	}
	return isNew, nil
}

// Unregister removes the user's subscription. Unknown endpoints are a no-op.
func (s *Service) Unregister(ctx context.Context, userID int64, endpoint string) error {
	if userID <= 0 || endpoint == "" {
		return fmt.Errorf("%w: user and endpoint are required", ErrInvalidInput)
	}
	deleted, err := s.store.UnregisterSubscription(ctx, userID, endpoint)
	if err != nil {
		return err
	}
	s.log.Info().Int64("user_id", userID).Bool("deleted", deleted).Msg("push subscription removed")
	return nil
}

// List returns the user's devices without their keys.
func (s *Service) List(ctx context.Context, userID int64) ([]Device, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(subs))
	for _, sub := range subs {
		devices = append(devices, Device{
			Endpoint:   sub.Endpoint,
			DeviceType: sub.DeviceType,
			DeviceName: sub.DeviceName,
			LastUsed:   sub.LastUsed,
			CreatedAt:  sub.CreatedAt,
		})
	}
	return devices, nil
}

// IsSubscribed reports whether endpoint is registered to userID.
func (s *Service) IsSubscribed(ctx context.Context, userID int64, endpoint string) (bool, error) {
	if endpoint == "" {
		return false, nil
	}
	return s.store.HasSubscription(ctx, userID, endpoint)
}

// Send validates the payload and delivers it. Delivery problems are
// reported through the Result only.
func (s *Service) Send(ctx context.Context, userID int64, p Payload, opts SendOptions) (Result, error) {
	if userID <= 0 {
		return Result{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := s.validate.Struct(p); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.validate.Var(opts.ContextRef, "max=64"); err != nil {
		return Result{}, fmt.Errorf("%w: context ref: %v", ErrInvalidInput, err)
	}
	if !s.engine.Ready() {
		return Result{}, ErrUnavailable
	}
	return s.engine.Send(ctx, userID, p, opts), nil
}

// SendTest delivers a fixed notification to the user without queuing it.
func (s *Service) SendTest(ctx context.Context, userID int64) (Result, error) {
	return s.Send(ctx, userID, Payload{
		Title: "Test notification",
		Body:  "Push notifications are working on this device.",
		Data:  []byte(`{"type":"test"}`),
	}, SendOptions{SkipQueue: true})
}

// Ready reports whether notifications can be delivered at all.
func (s *Service) Ready() bool {
	return s.engine.Ready()
}

// PublicKey returns the VAPID public key, or ErrUnavailable.
func (s *Service) PublicKey() (string, error) {
	if !s.engine.Ready() {
		return "", ErrUnavailable
	}
	return s.engine.PublicKey(), nil
}
