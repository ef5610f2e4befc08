package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/models"
)

func samplePost() models.Post {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Post{
		ID:    "p1",
		OrgID: "org-1",
		Content: models.Seal(models.SealedText{
			IV: "00112233445566778899aabbccddeeff", Content: "abcd", Version: models.EnvelopeVersion, IsEncrypted: true,
		}),
		Author:    "u1",
		MediaURLs: []string{},
		Reactions: models.Reactions{models.ReactionLike: {Users: []string{"u2"}, Count: 1}},
		Comments:  []models.Comment{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestEncode_EveryKindCarriesTypeAndOrg(t *testing.T) {
	post := samplePost()
	comment := models.Comment{ID: "c1", Text: models.PlainText("hi"), Author: "u3"}

	all := []Event{
		PostCreated{Post: post},
		PostUpdated{Post: post},
		PostDeleted{OrgID: "org-1", PostID: "p1"},
		CommentCreated{OrgID: "org-1", PostID: "p1", Comment: comment},
		CommentUpdated{OrgID: "org-1", PostID: "p1", Comment: comment},
		CommentDeleted{OrgID: "org-1", PostID: "p1", CommentID: "c1"},
		ReactionUpdated{OrgID: "org-1", EntityType: EntityComment, EntityID: "c1", PostID: "p1", Reactions: post.Reactions},
	}
	require.Len(t, all, len(Kinds))

	for _, ev := range all {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			data, err := Encode(ev)
			require.NoError(t, err)

			var frame struct {
				Type    string         `json:"type"`
				Payload map[string]any `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(data, &frame))
			assert.Equal(t, string(ev.Kind()), frame.Type)
			assert.Equal(t, "org-1", frame.Payload["orgId"])

			back, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ev.Kind(), back.Kind())
			assert.Equal(t, ev.Org(), back.Org())
		})
	}
}

func TestDecode_PostCreatedKeepsEnvelope(t *testing.T) {
	data, err := Encode(PostCreated{Post: samplePost()})
	require.NoError(t, err)

	ev, err := Decode(data)
	require.NoError(t, err)
	created, ok := ev.(PostCreated)
	require.True(t, ok)
	assert.True(t, created.Post.Content.IsSealed())
	assert.True(t, created.Post.Content.Equal(samplePost().Content))
	assert.Equal(t, 1, created.Post.Reactions.Count(models.ReactionLike))
}

func TestDecode_ReactionPayloadShape(t *testing.T) {
	raw := `{"type":"REACTION_UPDATED","payload":{"orgId":"o","entityType":"post","entityId":"p","postId":"p",
		"reactions":{"like":{"users":["a","b"],"count":2}}}}`

	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	r, ok := ev.(ReactionUpdated)
	require.True(t, ok)
	assert.Equal(t, EntityPost, r.EntityType)
	assert.Equal(t, []string{"a", "b"}, r.Reactions[models.ReactionLike].Users)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		unknown bool
	}{
		{name: "not json", input: `nope`},
		{name: "unknown type", input: `{"type":"POST_ARCHIVED","payload":{}}`, unknown: true},
		{name: "control frame", input: `{"type":"PONG"}`, unknown: true},
		{name: "bad payload", input: `{"type":"POST_DELETED","payload":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.Equal(t, tt.unknown, errors.Is(err, ErrUnknownKind))
		})
	}
}

func TestControlFrames(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"AUTH","organizationId":"org-1","role":"employee","token":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAuth, in.Type)
	assert.Equal(t, RoleEmployee, in.Role)

	auth, err := json.Marshal(NewAuth("org-1", RoleAdmin, "jwt"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"AUTH","organizationId":"org-1","role":"admin","token":"jwt"}`, string(auth))

	pong, err := ControlFrame(TypePong, nil)
	require.NoError(t, err)
	typ, err := PeekType(pong)
	require.NoError(t, err)
	assert.Equal(t, TypePong, typ)
}
