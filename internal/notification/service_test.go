package notification

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	users []int64
}

func (d *recordingDispatcher) Dispatch(userID int64, _ string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, userID)
	return true
}

func TestService_RegisterDispatchesOnlyForNewDevices(t *testing.T) {
	env := newTestEnv(t, alwaysStatus(http.StatusCreated))
	dispatcher := &recordingDispatcher{}
	svc := NewService(env.store, env.engine, dispatcher, zerolog.Nop())
	ctx := context.Background()
	req := SubscribeRequest{UserID: 5, Endpoint: phone, P256DH: "p256dh", Auth: "auth", DeviceType: "mobile", DeviceName: "Pixel 8"}

	isNew, err := svc.Register(ctx, req)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = svc.Register(ctx, req)
	require.NoError(t, err)
	assert.False(t, isNew)

	assert.Equal(t, []int64{5}, dispatcher.users)
}

func TestService_RegisterValidation(t *testing.T) {
	env := newTestEnv(t, alwaysStatus(http.StatusCreated))
	svc := NewService(env.store, env.engine, nil, zerolog.Nop())
	ctx := context.Background()

	cases := map[string]SubscribeRequest{
		"missing user":     {Endpoint: phone, P256DH: "k", Auth: "a"},
		"endpoint not url": {UserID: 1, Endpoint: "not-a-url", P256DH: "k", Auth: "a"},
		"missing keys":     {UserID: 1, Endpoint: phone},
		"long device name": {UserID: 1, Endpoint: phone, P256DH: "k", Auth: "a", DeviceName: strings.Repeat("n", 129)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, env.endpoints(t, 1))
}

func TestService_ListHidesKeys(t *testing.T) {
	env := newTestEnv(t, alwaysStatus(http.StatusCreated))
	svc := NewService(env.store, env.engine, nil, zerolog.Nop())
	env.subscribe(t, 3, phone)

	devices, err := svc.List(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, phone, devices[0].Endpoint)
	assert.Equal(t, "Unknown Device", devices[0].DeviceName)
	assert.False(t, devices[0].LastUsed.IsZero())
}

func TestService_UnregisterAndIsSubscribed(t *testing.T) {
	env := newTestEnv(t, alwaysStatus(http.StatusCreated))
	svc := NewService(env.store, env.engine, nil, zerolog.Nop())
	ctx := context.Background()
	env.subscribe(t, 3, phone)

	ok, err := svc.IsSubscribed(ctx, 3, phone)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Unregister(ctx, 4, phone), "someone else's endpoint is a no-op")
	ok, err = svc.IsSubscribed(ctx, 3, phone)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Unregister(ctx, 3, phone))
	ok, err = svc.IsSubscribed(ctx, 3, phone)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.Unregister(ctx, 3, ""), ErrInvalidInput)
}

func TestService_SendAndTest(t *testing.T) {
	env := newTestEnv(t, alwaysStatus(http.StatusCreated))
	svc := NewService(env.store, env.engine, nil, zerolog.Nop())
	ctx := context.Background()
	env.subscribe(t, 3, phone)

	res, err := svc.SendTest(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, SentCount: 1}, res)
	assert.Empty(t, env.pending(t, 3), "test pushes are not queued")

	_, err = svc.Send(ctx, 0, Payload{Title: "t"}, SendOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Send(ctx, 3, Payload{Title: "t", Actions: []Action{{Action: "", Title: "Open"}}}, SendOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Send(ctx, 3, Payload{Title: "t"}, SendOptions{ContextRef: strings.Repeat("r", 65)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, env.pending(t, 3), "rejected before queuing")
}

func TestService_Unavailable(t *testing.T) {
	cfg := testConfig()
	cfg.PublicKey = ""
	env := newTestEnvWithConfig(t, alwaysStatus(http.StatusCreated), cfg)
	svc := NewService(env.store, env.engine, nil, zerolog.Nop())

	_, err := svc.PublicKey()
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = svc.Send(context.Background(), 1, Payload{Title: "t"}, SendOptions{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
