package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"maintenance-push-backend/internal/mw"
	"maintenance-push-backend/internal/notification"
)

type subscriptionKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type browserSubscription struct {
	Endpoint string           `json:"endpoint" binding:"required"`
	Keys     subscriptionKeys `json:"keys"`
}

type subscribeRequest struct {
	Subscription browserSubscription `json:"subscription"`
	DeviceType   string              `json:"deviceType"`
	DeviceName   string              `json:"deviceName"`
}

type endpointRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// Subscribe registers the browser subscription for the caller.
func (h *Handler) Subscribe(c *gin.Context) {
	if !h.push.Ready() {
		h.fail(c, notification.ErrUnavailable)
		return
	}
	userID, _ := mw.UserID(c)

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	isNew, err := h.push.Register(c.Request.Context(), notification.SubscribeRequest{
		UserID:     userID,
		Endpoint:   req.Subscription.Endpoint,
		P256DH:     req.Subscription.Keys.P256DH,
		Auth:       req.Subscription.Keys.Auth,
		DeviceType: req.DeviceType,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "isNewDevice": isNew})
}

// Unsubscribe removes one of the caller's subscriptions.
func (h *Handler) Unsubscribe(c *gin.Context) {
	userID, _ := mw.UserID(c)

	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.push.Unregister(c.Request.Context(), userID, req.Endpoint); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// VerifySubscription tells the browser whether its endpoint is still
// registered to the caller.
func (h *Handler) VerifySubscription(c *gin.Context) {
	userID, _ := mw.UserID(c)

	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.push.IsSubscribed(c.Request.Context(), userID, req.Endpoint)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isSubscribed": ok})
}

// ListSubscriptions returns the caller's devices.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID, _ := mw.UserID(c)

	devices, err := h.push.List(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": devices})
}
