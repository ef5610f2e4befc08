// Package feed keeps a client's local copy of its organization's posts in
// step with the mutation events the gateway pushes.
//
// Events carry no sequence numbers and may arrive late, twice, or out of
// order. Apply is written so that none of those cases corrupt the list: a
// create for a known id is dropped, and an update, delete, or reaction for
// an unknown id does nothing.
package feed

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"murmur/codec"
	"murmur/events"
	"murmur/models"
)

// Apply returns posts with e applied. The input slice and the posts in it
// are never modified; when e changes nothing the input is returned as is.
func Apply(posts []models.Post, e events.Event) []models.Post {
	switch ev := e.(type) {
	case events.PostCreated:
		if indexOf(posts, ev.Post.ID) >= 0 {
			return posts
		}
		out := make([]models.Post, 0, len(posts)+1)
		out = append(out, ev.Post.Clone())
		return append(out, posts...)

	case events.PostUpdated:
		return withPost(posts, ev.Post.ID, func(models.Post) (models.Post, bool) {
			return ev.Post.Clone(), true
		})

	case events.PostDeleted:
		i := indexOf(posts, ev.PostID)
		if i < 0 {
			return posts
		}
		return slices.Concat(posts[:i], posts[i+1:])

	case events.CommentCreated:
		return withPost(posts, ev.PostID, func(p models.Post) (models.Post, bool) {
			if p.CommentIndex(ev.Comment.ID) >= 0 {
				return p, false
			}
			comments := make([]models.Comment, 0, len(p.Comments)+1)
			comments = append(comments, ev.Comment.Clone())
			p.Comments = append(comments, p.Comments...)
			return p, true
		})

	case events.CommentUpdated:
		return withComment(posts, ev.PostID, ev.Comment.ID, func(models.Comment) models.Comment {
			return ev.Comment.Clone()
		})

	case events.CommentDeleted:
		return withPost(posts, ev.PostID, func(p models.Post) (models.Post, bool) {
			i := p.CommentIndex(ev.CommentID)
			if i < 0 {
				return p, false
			}
			p.Comments = slices.Concat(p.Comments[:i], p.Comments[i+1:])
			return p, true
		})

	case events.ReactionUpdated:
		switch ev.EntityType {
		case events.EntityPost:
			return withPost(posts, ev.EntityID, func(p models.Post) (models.Post, bool) {
				p.Reactions = ev.Reactions.Snapshot()
				return p, true
			})
		case events.EntityComment:
			return withComment(posts, ev.PostID, ev.EntityID, func(c models.Comment) models.Comment {
				c.Reactions = ev.Reactions.Snapshot()
				return c
			})
		}
	}
	return posts
}

func indexOf(posts []models.Post, id string) int {
	return slices.IndexFunc(posts, func(p models.Post) bool { return p.ID == id })
}

// withPost replaces the post with id by f's result. f receives a shallow
// copy and must not write through its slices or maps.
func withPost(posts []models.Post, id string, f func(models.Post) (models.Post, bool)) []models.Post {
	i := indexOf(posts, id)
	if i < 0 {
		return posts
	}
	p, changed := f(posts[i])
	if !changed {
		return posts
	}
	out := slices.Clone(posts)
	out[i] = p
	return out
}

func withComment(posts []models.Post, postID, commentID string, f func(models.Comment) models.Comment) []models.Post {
	return withPost(posts, postID, func(p models.Post) (models.Post, bool) {
		i := p.CommentIndex(commentID)
		if i < 0 {
			return p, false
		}
		p.Comments = slices.Clone(p.Comments)
		p.Comments[i] = f(p.Comments[i])
		return p, true
	})
}

// PostView is a post ready for display, with its text opened.
type PostView struct {
	ID        string
	Author    string
	Content   string
	MediaURLs []string
	Reactions models.Reactions
	Comments  []CommentView
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CommentView struct {
	ID        string
	Author    string
	Text      string
	Reactions models.Reactions
	CreatedAt time.Time
}

// Feed is one organization's live post list. It is safe for concurrent use.
type Feed struct {
	orgID  string
	codec  *codec.Codec
	logger *slog.Logger

	mu    sync.RWMutex
	posts []models.Post
}

type Option func(*Feed)

func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) { f.logger = l }
}

// NewFeed starts from snapshot, typically the result of GET /api/posts.
// Posts belonging to other organizations are dropped.
func NewFeed(orgID string, c *codec.Codec, snapshot []models.Post, opts ...Option) *Feed {
	f := &Feed{orgID: orgID, codec: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	for _, p := range snapshot {
		if p.OrgID == orgID {
			f.posts = append(f.posts, p.Clone())
		}
	}
	return f
}

// Handle applies one inbound frame. Control frames and frames of unknown
// type are ignored, as are events for another organization. It reports
// whether the frame was applied.
func (f *Feed) Handle(frame []byte) bool {
	e, err := events.Decode(frame)
	if errors.Is(err, events.ErrUnknownKind) {
		return false
	}
	if err != nil {
		f.logger.Warn("dropping undecodable frame", "error", err)
		return false
	}
	return f.Apply(e)
}

// Apply applies e if it belongs to this feed's organization.
func (f *Feed) Apply(e events.Event) bool {
	if e.Org() != f.orgID {
		f.logger.Debug("ignoring event for another organization", "kind", e.Kind(), "org", e.Org())
		return false
	}
	f.mu.Lock()
	f.posts = Apply(f.posts, e)
	f.mu.Unlock()
	return true
}

// Echo inserts a post this client just created, before the gateway's copy
// of the same creation arrives. The later event is then a duplicate and is
// dropped.
func (f *Feed) Echo(p models.Post) {
	if p.OrgID == "" {
		p.OrgID = f.orgID
	}
	f.Apply(events.PostCreated{Post: p})
}

// Posts returns a copy of the current list, text still sealed.
func (f *Feed) Posts() []models.Post {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Post, len(f.posts))
	for i, p := range f.posts {
		out[i] = p.Clone()
	}
	return out
}

// View returns the list ready for display. Text that cannot be opened
// renders as codec.Placeholder.
func (f *Feed) View() []PostView {
	posts := f.Posts()
	out := make([]PostView, len(posts))
	for i, p := range posts {
		v := PostView{
			ID:        p.ID,
			Author:    p.Author,
			Content:   f.codec.Reveal(p.Content),
			MediaURLs: p.MediaURLs,
			Reactions: p.Reactions,
			Comments:  make([]CommentView, len(p.Comments)),
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}
		for j, c := range p.Comments {
			v.Comments[j] = CommentView{
				ID:        c.ID,
				Author:    c.Author,
				Text:      f.codec.Reveal(c.Text),
				Reactions: c.Reactions,
				CreatedAt: c.CreatedAt,
			}
		}
		out[i] = v
	}
	return out
}
