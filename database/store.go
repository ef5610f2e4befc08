package database

import (
	"context"
	"errors"
	"time"

	"murmur/models"
)

var ErrNotFound = errors.New("database: not found")

// Store persists posts, their embedded comments and reactions, and push
// subscriptions. Every post lookup is scoped to an organization; a post that
// exists in another organization is reported as ErrNotFound.
type Store interface {
	// ListPosts returns the organization's posts, newest first.
	ListPosts(ctx context.Context, orgID string) ([]models.Post, error)
	GetPost(ctx context.Context, orgID, postID string) (models.Post, error)
	CreatePost(ctx context.Context, post models.Post) (models.Post, error)
	UpdatePost(ctx context.Context, orgID, postID string, content models.Text, mediaURLs []string, at time.Time) (models.Post, error)
	DeletePost(ctx context.Context, orgID, postID string) error

	AddComment(ctx context.Context, orgID, postID string, comment models.Comment) (models.Comment, error)
	UpdateComment(ctx context.Context, orgID, postID, commentID string, text models.Text, at time.Time) (models.Comment, error)
	DeleteComment(ctx context.Context, orgID, postID, commentID string) error

	// ToggleReaction flips userID's membership in the reaction set of a post,
	// or of one of its comments when commentID is non-empty, and returns the
	// entity's reactions after the flip. Concurrent toggles on the same entity
	// must all be applied.
	ToggleReaction(ctx context.Context, orgID, postID, commentID string, t models.ReactionType, userID string) (models.Reactions, error)

	SavePushSubscription(ctx context.Context, sub models.PushSubscription) error
	GetPushSubscription(ctx context.Context, userID string) (models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID string) error
}

// preparePost fills the collections a stored post must carry so later
// in-place updates ($push, $addToSet) always find an array or document.
func preparePost(p models.Post) models.Post {
	p = p.Clone()
	if p.MediaURLs == nil {
		p.MediaURLs = []string{}
	}
	if p.Comments == nil {
		p.Comments = []models.Comment{}
	}
	p.Reactions = p.Reactions.Normalize()
	for i := range p.Comments {
		p.Comments[i] = prepareComment(p.Comments[i])
	}
	return p
}

func prepareComment(c models.Comment) models.Comment {
	c = c.Clone()
	c.Reactions = c.Reactions.Normalize()
	return c
}
