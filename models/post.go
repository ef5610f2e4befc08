package models

import (
	"slices"
	"time"
)

// Post is one anonymous feedback entry within an organization. Comments are
// embedded, so deleting a post deletes its comments.
type Post struct {
	ID        string    `bson:"_id" json:"id"`
	OrgID     string    `bson:"orgId" json:"orgId"`
	Content   Text      `bson:"content" json:"content"`
	Author    string    `bson:"author" json:"author"`
	MediaURLs []string  `bson:"mediaUrls" json:"mediaUrls"`
	Reactions Reactions `bson:"reactions" json:"reactions"`
	Comments  []Comment `bson:"comments" json:"comments"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

type Comment struct {
	ID        string    `bson:"id" json:"id"`
	Text      Text      `bson:"text" json:"text"`
	Author    string    `bson:"author" json:"author"`
	Reactions Reactions `bson:"reactions" json:"reactions"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Clone returns a deep copy of the post, its comments and reaction maps.
func (p Post) Clone() Post {
	out := p
	if p.MediaURLs != nil {
		out.MediaURLs = slices.Clone(p.MediaURLs)
	}
	out.Reactions = p.Reactions.Snapshot()
	if p.Content.Sealed != nil {
		sealed := *p.Content.Sealed
		out.Content.Sealed = &sealed
	}
	if p.Comments != nil {
		out.Comments = make([]Comment, len(p.Comments))
		for i, c := range p.Comments {
			out.Comments[i] = c.Clone()
		}
	}
	return out
}

func (c Comment) Clone() Comment {
	out := c
	out.Reactions = c.Reactions.Snapshot()
	if c.Text.Sealed != nil {
		sealed := *c.Text.Sealed
		out.Text.Sealed = &sealed
	}
	return out
}

// CommentIndex returns the position of the comment with id, or -1.
func (p Post) CommentIndex(id string) int {
	for i, c := range p.Comments {
		if c.ID == id {
			return i
		}
	}
	return -1
}
