package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"maintenance-push-backend/config"
	"maintenance-push-backend/internal/api"
	"maintenance-push-backend/internal/db"
	"maintenance-push-backend/internal/lock"
	"maintenance-push-backend/internal/logging"
	"maintenance-push-backend/internal/notification"
	"maintenance-push-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	pushCfg := notification.ConfigFromPush(cfg.Push)
	if !pushCfg.Enabled {
		logger.Warn().Msg("push notifications are disabled")
	} else if pushCfg.PublicKey == "" || pushCfg.PrivateKey == "" {
		logger.Warn().Msg("VAPID keys are not configured, notifications will be queued but not delivered")
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, store.WithMaxDevices(cfg.Push.MaxDevices))

	locker, closeLocker := newLocker(ctx, cfg.Redis, logger)
	defer closeLocker()

	engine := notification.NewEngine(appStore, pushCfg, logger)
	replayer := notification.NewReplayer(engine, appStore, locker, cfg.Redis.LockTTL(), logger)

	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, replayer, logger)
	pool.Start(ctx)

	var sweeper *notification.Sweeper
	if cfg.Queue.SweepEnabled {
		sweeper, err = notification.NewSweeper(appStore, replayer, cfg.Queue.TTL(), cfg.Queue.ExpirySchedule, cfg.Queue.ReplaySchedule, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure queue sweeper")
		}
		sweeper.Start()
	}

	service := notification.NewService(appStore, engine, pool, logger)

	// Initialize router
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(service, appStore, logger), api.RouterConfig{
		JWTSecret:     cfg.Auth.JWTSecret,
		InternalToken: cfg.Server.InternalToken,
		RateLimit:     rate.Limit(cfg.Server.RateLimitPerSec),
		RateBurst:     cfg.Server.RateLimitBurst,
		CacheTTL:      time.Duration(cfg.Server.CacheTTLSeconds) * time.Second,
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server Shutdown")
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	cancel()
	pool.Wait()

	logger.Info().Msg("server gracefully stopped")
}

// newLocker connects to Redis when an address is configured. Without Redis,
// replays are not coordinated across instances.
func newLocker(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (lock.Locker, func()) {
	if cfg.Addr == "" {
		return lock.Noop{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable, replay lock will retry per call")
	} else {
		logger.Info().Str("addr", cfg.Addr).Msg("redis replay lock enabled")
	}

	return lock.NewRedis(client, "pushd:"), func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}
