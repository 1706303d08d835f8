package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"maintenance-push-backend/internal/db"
	"maintenance-push-backend/internal/model"
	"maintenance-push-backend/internal/store"
)

// mockSender is a mock implementation of the Sender interface.
type mockSender struct {
	mu       sync.Mutex
	calls    []string
	payloads [][]byte
	SendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send records the call and delegates to SendFunc.
func (m *mockSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, sub.Endpoint)
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
	return m.SendFunc(ctx, payload, sub, options)
}

func (m *mockSender) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockSender) Payloads() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.payloads...)
}

func respond(status int) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}, nil
}

func alwaysStatus(status int) *mockSender {
	return &mockSender{
		SendFunc: func(context.Context, []byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			return respond(status)
		},
	}
}

// statusByEndpoint answers with a fixed status per endpoint, 201 otherwise.
func statusByEndpoint(statuses map[string]int) *mockSender {
	return &mockSender{
		SendFunc: func(_ context.Context, _ []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			if status, ok := statuses[sub.Endpoint]; ok {
				return respond(status)
			}
			return respond(http.StatusCreated)
		},
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testConfig() Config {
	return Config{
		Enabled:        true,
		PublicKey:      "test-public-key",
		PrivateKey:     "test-private-key",
		Subject:        "ops@example.com",
		TTL:            86400,
		MaxAttempts:    3,
		BackoffBase:    time.Second,
		AttemptTimeout: 5 * time.Second,
		Fanout:         4,
		ActiveWindow:   90 * 24 * time.Hour,
		Defaults: Defaults{
			Title: "Maintenance",
			Body:  "New notification",
			Icon:  "/icon-192.png",
		},
	}
}

type testEnv struct {
	db     *gorm.DB
	store  store.Store
	sender *mockSender
	sleeps *sleepRecorder
	engine *Engine
}

func newTestEnv(t *testing.T, sender *mockSender) *testEnv {
	return newTestEnvWithConfig(t, sender, testConfig())
}

func newTestEnvWithConfig(t *testing.T, sender *mockSender, cfg Config) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	st := store.NewGormStore(gormDB)
	sleeps := &sleepRecorder{}
	return &testEnv{
		db:     gormDB,
		store:  st,
		sender: sender,
		sleeps: sleeps,
		engine: NewEngine(st, cfg, zerolog.Nop(), WithSender(sender), WithSleep(sleeps.Sleep)),
	}
}

func (e *testEnv) subscribe(t *testing.T, userID int64, endpoints ...string) {
	t.Helper()
	for _, endpoint := range endpoints {
		_, err := e.store.RegisterSubscription(context.Background(), store.RegisterParams{
			UserID:   userID,
			Endpoint: endpoint,
			P256DH:   "p256dh",
			Auth:     "auth",
		})
		require.NoError(t, err)
	}
}

func (e *testEnv) pending(t *testing.T, userID int64) []model.PendingNotification {
	t.Helper()
	rows, err := e.store.ListPending(context.Background(), userID)
	require.NoError(t, err)
	return rows
}

func (e *testEnv) logs(t *testing.T, status model.DeliveryStatus) []model.DeliveryLog {
	t.Helper()
	var rows []model.DeliveryLog
	require.NoError(t, e.db.Where("status = ?", status).Order("id").Find(&rows).Error)
	return rows
}

func (e *testEnv) endpoints(t *testing.T, userID int64) []string {
	t.Helper()
	subs, err := e.store.ListSubscriptions(context.Background(), userID)
	require.NoError(t, err)
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Endpoint)
	}
	return out
}
