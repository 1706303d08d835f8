package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"maintenance-push-backend/internal/mw"
)

// RouterConfig carries the HTTP-level settings.
type RouterConfig struct {
	JWTSecret     string
	InternalToken string
	RateLimit     rate.Limit
	RateBurst     int
	CacheTTL      time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg RouterConfig, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(mw.RequestLogger(log), mw.Recovery(log))

	rateLimiter := mw.RateLimiter(cfg.RateLimit, cfg.RateBurst)
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	caching := mw.Cache(cacheStore, cfg.CacheTTL)
	auth := mw.JWTAuth(cfg.JWTSecret)

	r.GET("/healthz", h.Healthz)

	push := r.Group("/api/push")
	{
		// GET /api/push/vapid-public-key
		push.GET("/vapid-public-key", rateLimiter, caching, h.GetVAPIDPublicKey)

		user := push.Group("", auth, rateLimiter)
		user.POST("/subscribe", h.Subscribe)
		user.POST("/unsubscribe", h.Unsubscribe)
		user.POST("/verify-subscription", h.VerifySubscription)
		user.GET("/subscriptions-list", h.ListSubscriptions)
		user.POST("/test", h.SendTest)
	}

	internal := r.Group("/internal/push", mw.InternalToken(cfg.InternalToken))
	{
		internal.POST("/send", h.InternalSend)
	}

	return r
}
