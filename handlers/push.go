package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"murmur/database"
	"murmur/models"
)

// Notification is the JSON body delivered to the service worker. It never
// carries post or comment text.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

func CommentNotification(postID string) Notification {
	return Notification{
		Title: "New comment on your post",
		Body:  "Someone replied to your feedback.",
		Data:  map[string]any{"postId": postID, "url": "/posts/" + postID},
	}
}

// Pusher sends web push notifications to users' registered browsers.
type Pusher struct {
	store      database.Store
	publicKey  string
	privateKey string
	subscriber string
	client     webpush.HTTPClient
	timeout    time.Duration
	logger     *slog.Logger
}

// NewPusher builds a pusher for a VAPID key pair. subject is a mailto: or
// https: contact for the push service.
func NewPusher(store database.Store, publicKey, privateKey, subject string, logger *slog.Logger) *Pusher {
	return &Pusher{
		store:      store,
		publicKey:  publicKey,
		privateKey: privateKey,
		// webpush-go adds the mailto: scheme itself
		subscriber: strings.TrimPrefix(subject, "mailto:"),
		client:     &http.Client{Timeout: 10 * time.Second},
		timeout:    10 * time.Second,
		logger:     logger,
	}
}

func (p *Pusher) PublicKey() string {
	return p.publicKey
}

// Notify delivers n to userID's subscription, if any. A subscription the
// push service reports as gone (404 or 410) is deleted.
func (p *Pusher) Notify(ctx context.Context, userID string, n Notification) error {
	sub, err := p.store.GetPushSubscription(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		p.logger.Debug("no push subscription", "user", userID)
		return nil
	}
	if err != nil {
		return err
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub.Sub, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.subscriber,
		VAPIDPublicKey:  p.publicKey,
		VAPIDPrivateKey: p.privateKey,
		TTL:             30,
	})
	if err != nil {
		return fmt.Errorf("send push to %s: %w", userID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		p.logger.Info("push subscription expired, deleting", "user", userID, "status", resp.StatusCode)
		if err := p.store.DeletePushSubscription(ctx, userID); err != nil {
			return fmt.Errorf("delete expired subscription: %w", err)
		}
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service returned %d for %s", resp.StatusCode, userID)
	default:
		p.logger.Debug("push notification sent", "user", userID)
	}
	return nil
}

// NotifyAsync sends in the background so the request that triggered it is
// not held up by the push service.
func (p *Pusher) NotifyAsync(userID string, n Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Notify(ctx, userID, n); err != nil {
			p.logger.Warn("push notification failed", "user", userID, "error", err)
		}
	}()
}

type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// SubscribePush stores the caller's browser subscription, replacing any
// previous one.
func (h *Handler) SubscribePush(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := actorFrom(c)
	sub := models.PushSubscription{
		UserID: a.UserID,
		Sub: webpush.Subscription{
			Endpoint: req.Endpoint,
			Keys:     webpush.Keys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth},
		},
	}
	if err := h.store.SavePushSubscription(c.Request.Context(), sub); err != nil {
		h.storeError(c, err, "Subscription not found", "save subscription")
		return
	}

	h.logger.Info("push subscription saved", "user", a.UserID)
	c.JSON(http.StatusOK, gin.H{"message": "Push subscription saved successfully"})
}

func (h *Handler) GetVapidPublicKey(c *gin.Context) {
	if h.pusher == nil || h.pusher.PublicKey() == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.pusher.PublicKey()})
}
