package database

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"murmur/models"
)

// MemoryStore is a Store kept in process memory. It backs tests and
// STORE=memory development runs. A single mutex serialises every write, which
// makes each ToggleReaction an atomic read-modify-write.
type MemoryStore struct {
	mu    sync.RWMutex
	posts map[string]models.Post
	subs  map[string]models.PushSubscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts: make(map[string]models.Post),
		subs:  make(map[string]models.PushSubscription),
	}
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(orgID, postID string) (models.Post, bool) {
	p, ok := s.posts[postID]
	if !ok || p.OrgID != orgID {
		return models.Post{}, false
	}
	return p, true
}

func (s *MemoryStore) ListPosts(_ context.Context, orgID string) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := []models.Post{}
	for _, p := range s.posts {
		if p.OrgID == orgID {
			posts = append(posts, p.Clone())
		}
	}
	slices.SortFunc(posts, func(a, b models.Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return posts, nil
}

func (s *MemoryStore) GetPost(_ context.Context, orgID, postID string) (models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.lookup(orgID, postID)
	if !ok {
		return models.Post{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) CreatePost(_ context.Context, post models.Post) (models.Post, error) {
	post = preparePost(post)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = post
	return post.Clone(), nil
}

func (s *MemoryStore) UpdatePost(_ context.Context, orgID, postID string, content models.Text, mediaURLs []string, at time.Time) (models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.lookup(orgID, postID)
	if !ok {
		return models.Post{}, ErrNotFound
	}
	p = p.Clone()
	p.Content = content
	p.MediaURLs = append([]string{}, mediaURLs...)
	p.UpdatedAt = at
	s.posts[postID] = p
	return p.Clone(), nil
}

func (s *MemoryStore) DeletePost(_ context.Context, orgID, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(orgID, postID); !ok {
		return ErrNotFound
	}
	delete(s.posts, postID)
	return nil
}

func (s *MemoryStore) AddComment(_ context.Context, orgID, postID string, comment models.Comment) (models.Comment, error) {
	comment = prepareComment(comment)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.lookup(orgID, postID)
	if !ok {
		return models.Comment{}, ErrNotFound
	}
	p = p.Clone()
	p.Comments = append(p.Comments, comment)
	s.posts[postID] = p
	return comment.Clone(), nil
}

func (s *MemoryStore) UpdateComment(_ context.Context, orgID, postID, commentID string, text models.Text, at time.Time) (models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.lookup(orgID, postID)
	if !ok {
		return models.Comment{}, ErrNotFound
	}
	i := p.CommentIndex(commentID)
	if i < 0 {
		return models.Comment{}, ErrNotFound
	}
	p = p.Clone()
	p.Comments[i].Text = text
	p.Comments[i].UpdatedAt = at
	s.posts[postID] = p
	return p.Comments[i].Clone(), nil
}

func (s *MemoryStore) DeleteComment(_ context.Context, orgID, postID, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.lookup(orgID, postID)
	if !ok {
		return ErrNotFound
	}
	i := p.CommentIndex(commentID)
	if i < 0 {
		return ErrNotFound
	}
	p = p.Clone()
	p.Comments = slices.Delete(p.Comments, i, i+1)
	s.posts[postID] = p
	return nil
}

func (s *MemoryStore) ToggleReaction(_ context.Context, orgID, postID, commentID string, t models.ReactionType, userID string) (models.Reactions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.lookup(orgID, postID)
	if !ok {
		return nil, ErrNotFound
	}
	p = p.Clone()

	var next models.Reactions
	if commentID == "" {
		next, _ = p.Reactions.Toggle(t, userID)
		p.Reactions = next
	} else {
		i := p.CommentIndex(commentID)
		if i < 0 {
			return nil, ErrNotFound
		}
		next, _ = p.Comments[i].Reactions.Toggle(t, userID)
		p.Comments[i].Reactions = next
	}
	s.posts[postID] = p
	return next.Snapshot(), nil
}

func (s *MemoryStore) SavePushSubscription(_ context.Context, sub models.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID] = sub
	return nil
}

func (s *MemoryStore) GetPushSubscription(_ context.Context, userID string) (models.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[userID]
	if !ok {
		return models.PushSubscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *MemoryStore) DeletePushSubscription(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, userID)
	return nil
}
