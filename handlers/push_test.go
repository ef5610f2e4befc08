package handlers

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/database"
	"murmur/events"
	"murmur/models"
)

// browserKeys returns a valid p256dh/auth pair like a browser would register.
func browserKeys(t *testing.T) webpush.Keys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return webpush.Keys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestPusher(t *testing.T, store database.Store) *Pusher {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewPusher(store, public, private, "mailto:ops@murmur.test", slog.Default())
}

func TestPusher_Notify(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantErr     bool
		wantDeleted bool
	}{
		{name: "delivered", status: http.StatusCreated},
		{name: "gone", status: http.StatusGone, wantDeleted: true},
		{name: "not found", status: http.StatusNotFound, wantDeleted: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
				assert.Contains(t, r.Header.Get("Authorization"), "vapid ")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			store := database.NewMemoryStore()
			require.NoError(t, store.SavePushSubscription(t.Context(), models.PushSubscription{
				UserID: "alice",
				Sub:    webpush.Subscription{Endpoint: srv.URL, Keys: browserKeys(t)},
			}))

			err := newTestPusher(t, store).Notify(t.Context(), "alice", CommentNotification("p1"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, int32(1), hits.Load())

			_, err = store.GetPushSubscription(t.Context(), "alice")
			if tt.wantDeleted {
				assert.ErrorIs(t, err, database.ErrNotFound)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPusher_NoSubscriptionIsNotAnError(t *testing.T) {
	p := newTestPusher(t, database.NewMemoryStore())
	assert.NoError(t, p.Notify(t.Context(), "nobody", CommentNotification("p1")))
}

func TestCommentNotification_CarriesNoContent(t *testing.T) {
	n := CommentNotification("p1")
	assert.Equal(t, "New comment on your post", n.Title)
	assert.Equal(t, "p1", n.Data["postId"])
}

func TestCreateComment_NotifiesPostAuthor(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := database.NewMemoryStore()
	e := newEnvWithStore(t, store, WithPusher(newTestPusher(t, store)))

	alice := token(t, "alice", "org-1", events.RoleEmployee)
	post := e.createPost(t, alice, "topic")
	require.NoError(t, store.SavePushSubscription(t.Context(), models.PushSubscription{
		UserID: "alice",
		Sub:    webpush.Subscription{Endpoint: srv.URL, Keys: browserKeys(t)},
	}))

	// Own comments do not notify.
	w := e.do(t, alice, http.MethodPost, "/api/posts/"+post.ID+"/comments", gin.H{"text": "bump"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, token(t, "bob", "org-1", events.RoleEmployee), http.MethodPost, "/api/posts/"+post.ID+"/comments", gin.H{"text": "reply"})
	require.Equal(t, http.StatusCreated, w.Code)

	<-hits
	assert.Len(t, hits, 0, "exactly one push for the foreign comment")
}
