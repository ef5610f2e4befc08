package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"murmur/events"
	"murmur/models"
)

type ReactionRequest struct {
	Type      string `json:"type" binding:"required"`
	CommentID string `json:"commentId"`
}

// ToggleReaction flips the caller's reaction on a post, or on one of its
// comments when commentId is given, and broadcasts the entity's full
// reaction map. The store applies the flip atomically, so concurrent toggles
// from different users all land.
func (h *Handler) ToggleReaction(c *gin.Context) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := models.ParseReactionType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := actorFrom(c)
	postID := c.Param("id")
	reactions, err := h.store.ToggleReaction(c.Request.Context(), a.OrgID, postID, req.CommentID, rt, a.UserID)
	if err != nil {
		h.storeError(c, err, "Post or comment not found", "toggle reaction")
		return
	}

	ev := events.ReactionUpdated{
		OrgID:      a.OrgID,
		EntityType: events.EntityPost,
		EntityID:   postID,
		PostID:     postID,
		Reactions:  reactions,
	}
	if req.CommentID != "" {
		ev.EntityType = events.EntityComment
		ev.EntityID = req.CommentID
	}
	h.publish(ev)

	c.JSON(http.StatusOK, gin.H{
		"entityType": ev.EntityType,
		"entityId":   ev.EntityID,
		"postId":     postID,
		"reactions":  reactions,
		"reacted":    reactions[rt].Has(a.UserID),
	})
}
