// Package events defines the mutation events pushed to connected clients and
// the JSON frames that carry them.
//
// Event is a closed set: only the variants in this package implement it, and
// consumers are expected to type-switch over all of them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"murmur/models"
)

type Kind string

const (
	KindPostCreated     Kind = "POST_CREATED"
	KindPostUpdated     Kind = "POST_UPDATED"
	KindPostDeleted     Kind = "POST_DELETED"
	KindCommentCreated  Kind = "COMMENT_CREATED"
	KindCommentUpdated  Kind = "COMMENT_UPDATED"
	KindCommentDeleted  Kind = "COMMENT_DELETED"
	KindReactionUpdated Kind = "REACTION_UPDATED"
)

// Kinds lists every mutation kind.
var Kinds = []Kind{
	KindPostCreated, KindPostUpdated, KindPostDeleted,
	KindCommentCreated, KindCommentUpdated, KindCommentDeleted,
	KindReactionUpdated,
}

var ErrUnknownKind = errors.New("events: unknown event type")

// Event is one state change. Org returns the organization it belongs to.
type Event interface {
	Kind() Kind
	Org() string
	event()
}

type PostCreated struct {
	Post models.Post `json:"post"`
}

type PostUpdated struct {
	Post models.Post `json:"post"`
}

type PostDeleted struct {
	OrgID  string `json:"orgId"`
	PostID string `json:"postId"`
}

type CommentCreated struct {
	OrgID   string         `json:"orgId"`
	PostID  string         `json:"postId"`
	Comment models.Comment `json:"comment"`
}

type CommentUpdated struct {
	OrgID   string         `json:"orgId"`
	PostID  string         `json:"postId"`
	Comment models.Comment `json:"comment"`
}

type CommentDeleted struct {
	OrgID     string `json:"orgId"`
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
}

type EntityType string

const (
	EntityPost    EntityType = "post"
	EntityComment EntityType = "comment"
)

// ReactionUpdated carries the authoritative reaction snapshot of one post or
// comment. For posts EntityID equals PostID.
type ReactionUpdated struct {
	OrgID      string           `json:"orgId"`
	EntityType EntityType       `json:"entityType"`
	EntityID   string           `json:"entityId"`
	PostID     string           `json:"postId"`
	Reactions  models.Reactions `json:"reactions"`
}

func (PostCreated) Kind() Kind     { return KindPostCreated }
func (PostUpdated) Kind() Kind     { return KindPostUpdated }
func (PostDeleted) Kind() Kind     { return KindPostDeleted }
func (CommentCreated) Kind() Kind  { return KindCommentCreated }
func (CommentUpdated) Kind() Kind  { return KindCommentUpdated }
func (CommentDeleted) Kind() Kind  { return KindCommentDeleted }
func (ReactionUpdated) Kind() Kind { return KindReactionUpdated }

func (e PostCreated) Org() string     { return e.Post.OrgID }
func (e PostUpdated) Org() string     { return e.Post.OrgID }
func (e PostDeleted) Org() string     { return e.OrgID }
func (e CommentCreated) Org() string  { return e.OrgID }
func (e CommentUpdated) Org() string  { return e.OrgID }
func (e CommentDeleted) Org() string  { return e.OrgID }
func (e ReactionUpdated) Org() string { return e.OrgID }

func (PostCreated) event()     {}
func (PostUpdated) event()     {}
func (PostDeleted) event()     {}
func (CommentCreated) event()  {}
func (CommentUpdated) event()  {}
func (CommentDeleted) event()  {}
func (ReactionUpdated) event() {}

// postPayload adds orgId next to the post so every payload can be routed
// without looking inside it.
type postPayload struct {
	OrgID string      `json:"orgId"`
	Post  models.Post `json:"post"`
}

// Frame is the wire shape of every server → client message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serialises e into one text frame.
func Encode(e Event) ([]byte, error) {
	var payload any
	switch ev := e.(type) {
	case PostCreated:
		payload = postPayload{OrgID: ev.Post.OrgID, Post: ev.Post}
	case PostUpdated:
		payload = postPayload{OrgID: ev.Post.OrgID, Post: ev.Post}
	case PostDeleted, CommentCreated, CommentUpdated, CommentDeleted, ReactionUpdated:
		payload = ev
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, e)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", e.Kind(), err)
	}
	return json.Marshal(Frame{Type: string(e.Kind()), Payload: raw})
}

// Decode parses a frame produced by Encode. Control frames (see control.go)
// are not events and return ErrUnknownKind.
func Decode(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("events: decode frame: %w", err)
	}
	return DecodePayload(Kind(f.Type), f.Payload)
}

func DecodePayload(kind Kind, raw json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch kind {
	case KindPostCreated:
		var p postPayload
		err = json.Unmarshal(raw, &p)
		ev = PostCreated{Post: withOrg(p)}
	case KindPostUpdated:
		var p postPayload
		err = json.Unmarshal(raw, &p)
		ev = PostUpdated{Post: withOrg(p)}
	case KindPostDeleted:
		var p PostDeleted
		err = json.Unmarshal(raw, &p)
		ev = p
	case KindCommentCreated:
		var p CommentCreated
		err = json.Unmarshal(raw, &p)
		ev = p
	case KindCommentUpdated:
		var p CommentUpdated
		err = json.Unmarshal(raw, &p)
		ev = p
	case KindCommentDeleted:
		var p CommentDeleted
		err = json.Unmarshal(raw, &p)
		ev = p
	case KindReactionUpdated:
		var p ReactionUpdated
		err = json.Unmarshal(raw, &p)
		ev = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("events: decode %s payload: %w", kind, err)
	}
	return ev, nil
}

func withOrg(p postPayload) models.Post {
	if p.Post.OrgID == "" {
		p.Post.OrgID = p.OrgID
	}
	return p.Post
}
