package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostClone_KeepsEmptySlices(t *testing.T) {
	p := Post{ID: "p1", MediaURLs: []string{}, Comments: []Comment{}, Reactions: Reactions{}}

	c := p.Clone()
	require.NotNil(t, c.MediaURLs)
	require.NotNil(t, c.Comments)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mediaUrls":[]`)
	assert.Contains(t, string(data), `"comments":[]`)
}

func TestPostClone_IsDeep(t *testing.T) {
	p := Post{
		ID:        "p1",
		MediaURLs: []string{"a.png"},
		Comments:  []Comment{{ID: "c1", Reactions: Reactions{}}},
		Reactions: Reactions{},
	}

	c := p.Clone()
	c.MediaURLs[0] = "b.png"
	c.Comments[0].ID = "c2"
	c.Reactions, _ = c.Reactions.Toggle(ReactionLike, "alice")

	assert.Equal(t, "a.png", p.MediaURLs[0])
	assert.Equal(t, "c1", p.Comments[0].ID)
	assert.Empty(t, p.Reactions)
}

func TestPostClone_NilStaysNil(t *testing.T) {
	c := Post{ID: "p1"}.Clone()
	assert.Nil(t, c.MediaURLs)
	assert.Nil(t, c.Comments)
}
