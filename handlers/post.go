package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"murmur/events"
	"murmur/models"
)

type PostRequest struct {
	Content   string   `json:"content" binding:"required"`
	MediaURLs []string `json:"mediaUrls"`
}

// ListPosts returns the caller's organization feed, newest first. Text fields
// are returned sealed, exactly as stored; clients open them for display.
func (h *Handler) ListPosts(c *gin.Context) {
	a := actorFrom(c)
	posts, err := h.store.ListPosts(c.Request.Context(), a.OrgID)
	if err != nil {
		h.storeError(c, err, "Posts not found", "load posts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (h *Handler) GetPost(c *gin.Context) {
	a := actorFrom(c)
	post, err := h.store.GetPost(c.Request.Context(), a.OrgID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Post not found", "load post")
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (h *Handler) CreatePost(c *gin.Context) {
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content, ok := h.sealText(c, "content", req.Content)
	if !ok {
		return
	}

	a := actorFrom(c)
	now := h.now()
	post, err := h.store.CreatePost(c.Request.Context(), models.Post{
		ID:        uuid.NewString(),
		OrgID:     a.OrgID,
		Content:   content,
		Author:    a.UserID,
		MediaURLs: req.MediaURLs,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		h.storeError(c, err, "Post not found", "create post")
		return
	}

	h.publish(events.PostCreated{Post: post})
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

// UpdatePost replaces content and media. Only the author may edit.
func (h *Handler) UpdatePost(c *gin.Context) {
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := actorFrom(c)
	ctx := c.Request.Context()
	existing, err := h.store.GetPost(ctx, a.OrgID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Post not found", "load post")
		return
	}
	if existing.Author != a.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the author can edit this post"})
		return
	}

	content, ok := h.sealText(c, "content", req.Content)
	if !ok {
		return
	}
	post, err := h.store.UpdatePost(ctx, a.OrgID, existing.ID, content, req.MediaURLs, h.now())
	if err != nil {
		h.storeError(c, err, "Post not found", "update post")
		return
	}

	h.publish(events.PostUpdated{Post: post})
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// DeletePost removes a post and its comments. Authors and admins may delete.
func (h *Handler) DeletePost(c *gin.Context) {
	a := actorFrom(c)
	ctx := c.Request.Context()
	existing, err := h.store.GetPost(ctx, a.OrgID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Post not found", "load post")
		return
	}
	if !a.canModerate(existing.Author) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed to delete this post"})
		return
	}

	if err := h.store.DeletePost(ctx, a.OrgID, existing.ID); err != nil {
		h.storeError(c, err, "Post not found", "delete post")
		return
	}

	h.publish(events.PostDeleted{OrgID: a.OrgID, PostID: existing.ID})
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted", "postId": existing.ID})
}
