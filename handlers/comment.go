package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"murmur/events"
	"murmur/models"
)

type CommentRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) CreateComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := actorFrom(c)
	ctx := c.Request.Context()
	post, err := h.store.GetPost(ctx, a.OrgID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Post not found", "load post")
		return
	}

	text, ok := h.sealText(c, "text", req.Text)
	if !ok {
		return
	}
	now := h.now()
	comment, err := h.store.AddComment(ctx, a.OrgID, post.ID, models.Comment{
		ID:        uuid.NewString(),
		Text:      text,
		Author:    a.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		h.storeError(c, err, "Post not found", "add comment")
		return
	}

	h.publish(events.CommentCreated{OrgID: a.OrgID, PostID: post.ID, Comment: comment})
	if h.pusher != nil && post.Author != a.UserID {
		h.pusher.NotifyAsync(post.Author, CommentNotification(post.ID))
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment, "postId": post.ID})
}

// UpdateComment replaces a comment's text. Only its author may edit.
func (h *Handler) UpdateComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := actorFrom(c)
	ctx := c.Request.Context()
	existing, ok := h.loadComment(c, a)
	if !ok {
		return
	}
	if existing.Author != a.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the author can edit this comment"})
		return
	}

	text, ok := h.sealText(c, "text", req.Text)
	if !ok {
		return
	}
	postID := c.Param("id")
	comment, err := h.store.UpdateComment(ctx, a.OrgID, postID, existing.ID, text, h.now())
	if err != nil {
		h.storeError(c, err, "Comment not found", "update comment")
		return
	}

	h.publish(events.CommentUpdated{OrgID: a.OrgID, PostID: postID, Comment: comment})
	c.JSON(http.StatusOK, gin.H{"comment": comment, "postId": postID})
}

// DeleteComment removes a comment. Its author and admins may delete.
func (h *Handler) DeleteComment(c *gin.Context) {
	a := actorFrom(c)
	existing, ok := h.loadComment(c, a)
	if !ok {
		return
	}
	if !a.canModerate(existing.Author) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed to delete this comment"})
		return
	}

	postID := c.Param("id")
	if err := h.store.DeleteComment(c.Request.Context(), a.OrgID, postID, existing.ID); err != nil {
		h.storeError(c, err, "Comment not found", "delete comment")
		return
	}

	h.publish(events.CommentDeleted{OrgID: a.OrgID, PostID: postID, CommentID: existing.ID})
	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted", "commentId": existing.ID})
}

func (h *Handler) loadComment(c *gin.Context, a actor) (models.Comment, bool) {
	post, err := h.store.GetPost(c.Request.Context(), a.OrgID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Post not found", "load post")
		return models.Comment{}, false
	}
	i := post.CommentIndex(c.Param("commentId"))
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Comment not found"})
		return models.Comment{}, false
	}
	return post.Comments[i], true
}
