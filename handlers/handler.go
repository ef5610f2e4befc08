package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"murmur/codec"
	"murmur/database"
	"murmur/events"
	"murmur/middleware"
	"murmur/models"
)

// maxTextLength bounds post and comment bodies, in runes.
const maxTextLength = 5000

// Broadcaster fans a mutation out to connected clients.
type Broadcaster interface {
	Broadcast(e events.Event) int
}

// Handler serves the feed REST API. Every successful mutation is persisted,
// then broadcast as exactly one event; a failed mutation broadcasts nothing.
type Handler struct {
	store       database.Store
	codec       *codec.Codec
	broadcaster Broadcaster
	pusher      *Pusher
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Handler)

// WithPusher enables web push notifications for new comments.
func WithPusher(p *Pusher) Option {
	return func(h *Handler) { h.pusher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func New(store database.Store, c *codec.Codec, b Broadcaster, opts ...Option) *Handler {
	h := &Handler{
		store:       store,
		codec:       c,
		broadcaster: b,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// actor is the authenticated caller, as set by the JWT middleware.
type actor struct {
	UserID string
	OrgID  string
	Admin  bool
}

func actorFrom(c *gin.Context) actor {
	return actor{
		UserID: c.GetString(middleware.UserIDKey),
		OrgID:  c.GetString(middleware.OrgIDKey),
		Admin:  c.GetString(middleware.RoleKey) == string(events.RoleAdmin),
	}
}

// canModerate reports whether a may delete something written by author.
func (a actor) canModerate(author string) bool {
	return a.Admin || a.UserID == author
}

func (h *Handler) publish(e events.Event) {
	n := h.broadcaster.Broadcast(e)
	h.logger.Debug("mutation broadcast", "kind", e.Kind(), "org", e.Org(), "delivered", n)
}

// storeError maps a store failure onto a response. Internal errors are logged
// with context and never echoed to the client.
func (h *Handler) storeError(c *gin.Context, err error, notFound, op string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	h.logger.Error(op+" failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op})
}

// sealText validates and encrypts user text. It writes the error response
// and returns false when the caller should stop.
func (h *Handler) sealText(c *gin.Context, field, text string) (models.Text, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " must not be empty"})
		return models.Text{}, false
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be at most %d characters", field, maxTextLength)})
		return models.Text{}, false
	}

	sealed, err := h.codec.Seal(text)
	if err != nil {
		h.logger.Error("seal failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store content"})
		return models.Text{}, false
	}
	return sealed, true
}

// Register mounts the feed API on g. g must already run the JWT middleware.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/posts", h.ListPosts)
	g.POST("/posts", h.CreatePost)
	g.GET("/posts/:id", h.GetPost)
	g.PUT("/posts/:id", h.UpdatePost)
	g.DELETE("/posts/:id", h.DeletePost)

	g.POST("/posts/:id/comments", h.CreateComment)
	g.PUT("/posts/:id/comments/:commentId", h.UpdateComment)
	g.DELETE("/posts/:id/comments/:commentId", h.DeleteComment)

	g.POST("/posts/:id/reactions", h.ToggleReaction)

	g.POST("/push/subscribe", h.SubscribePush)
	g.GET("/push/vapid-public-key", h.GetVapidPublicKey)
}
