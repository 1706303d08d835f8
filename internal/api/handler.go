package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"maintenance-push-backend/internal/notification"
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	push *notification.Service
	db   Pinger
	log  zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(push *notification.Service, db Pinger, log zerolog.Logger) *Handler {
	return &Handler{
		push: push,
		db:   db,
		log:  log.With().Str("component", "api").Logger(),
	}
}

// fail maps service errors to HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notification.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, notification.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
