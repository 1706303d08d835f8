package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"maintenance-push-backend/internal/mw"
	"maintenance-push-backend/internal/notification"
)

type sendRequest struct {
	UserID             int64                `json:"userId" binding:"required,gt=0"`
	Payload            notification.Payload `json:"payload"`
	ContextRef         string               `json:"contextRef" binding:"max=64"`
	DedupWindowSeconds int                  `json:"dedupWindowSeconds" binding:"gte=0"`
	SkipQueue          bool                 `json:"skipQueue"`
}

// SendTest pushes a test notification to every device of the caller.
func (h *Handler) SendTest(c *gin.Context) {
	userID, _ := mw.UserID(c)

	res, err := h.push.SendTest(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// InternalSend lets other backend services notify a user.
func (h *Handler) InternalSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.push.Send(c.Request.Context(), req.UserID, req.Payload, notification.SendOptions{
		SkipQueue:   req.SkipQueue,
		ContextRef:  req.ContextRef,
		DedupWindow: time.Duration(req.DedupWindowSeconds) * time.Second,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
