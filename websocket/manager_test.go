package websocket

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/events"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewManager(append([]Option{WithMetrics(metrics)}, opts...)...)
	t.Cleanup(m.Shutdown)
	return m, metrics
}

// subscribed registers a connectionless client; the pumps are never started,
// so frames stay in its send buffer for inspection.
func subscribed(t *testing.T, m *Manager, orgID string) *Client {
	t.Helper()
	c := newClient(nil, m)
	require.NoError(t, m.Register(c))
	m.Subscribe(c, Identity{UserID: "u-" + c.id, OrgID: orgID, Role: events.RoleEmployee})
	return c
}

func drain(c *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestBroadcast_FailingConnectionDoesNotBlockOthers(t *testing.T) {
	m, metrics := newTestManager(t, WithSendBuffer(1))

	healthy := []*Client{subscribed(t, m, "org-1"), subscribed(t, m, "org-1"), subscribed(t, m, "org-1")}
	slow := subscribed(t, m, "org-1")
	require.NoError(t, slow.enqueue([]byte("backlog")))

	delivered := m.Broadcast(events.PostDeleted{OrgID: "org-1", PostID: "p1"})

	assert.Equal(t, 3, delivered)
	for _, c := range healthy {
		frames := drain(c)
		require.Len(t, frames, 1)
		ev, err := events.Decode(frames[0])
		require.NoError(t, err)
		assert.Equal(t, events.KindPostDeleted, ev.Kind())
	}

	assert.Equal(t, 3, m.ConnectedClients(), "slow client is dropped")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SendFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Deliveries))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ConnectedClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Broadcasts.WithLabelValues(string(events.KindPostDeleted))))

	// Dropped clients fail fast on the next broadcast.
	assert.ErrorIs(t, slow.enqueue([]byte("x")), ErrClientClosed)
}

func TestBroadcast_ClosedConnectionIsSkipped(t *testing.T) {
	m, metrics := newTestManager(t)

	a := subscribed(t, m, "org-1")
	gone := subscribed(t, m, "org-1")
	gone.close()

	assert.Equal(t, 1, m.Broadcast(events.PostDeleted{OrgID: "org-1", PostID: "p1"}))
	assert.Len(t, drain(a), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SendFailures))
}

func TestBroadcast_Scope(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  map[string]int
	}{
		{name: "org", scope: ScopeOrg, want: map[string]int{"org-1": 1, "org-2": 0, "": 0}},
		{name: "all", scope: ScopeAll, want: map[string]int{"org-1": 1, "org-2": 1, "": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, WithScope(tt.scope))

			clients := map[string]*Client{
				"org-1": subscribed(t, m, "org-1"),
				"org-2": subscribed(t, m, "org-2"),
			}
			anon := newClient(nil, m)
			require.NoError(t, m.Register(anon))
			clients[""] = anon

			m.Broadcast(events.CommentDeleted{OrgID: "org-1", PostID: "p1", CommentID: "c1"})

			for org, c := range clients {
				assert.Len(t, drain(c), tt.want[org], "org %q", org)
			}
		})
	}
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeOrg, s)

	s, err = ParseScope("all")
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, s)

	_, err = ParseScope("everyone")
	assert.Error(t, err)
}

func TestManager_Shutdown(t *testing.T) {
	m, metrics := newTestManager(t)
	c := subscribed(t, m, "org-1")

	m.Shutdown()

	_, ok := <-c.send
	assert.False(t, ok, "send buffer is closed")
	assert.Equal(t, 0, m.ConnectedClients())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ConnectedClients))
	assert.True(t, errors.Is(m.Register(newClient(nil, m)), ErrManagerClosed))

	// Unregister after shutdown is harmless.
	m.Unregister(c)
}

func testAuthenticator(token string) (Identity, error) {
	org, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return Identity{}, errors.New("bad token")
	}
	return Identity{UserID: "u1", OrgID: org, Role: events.RoleAdmin}, nil
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) events.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f events.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHandler_AuthThenReceive(t *testing.T) {
	m, _ := newTestManager(t, WithAuthenticator(testAuthenticator))
	srv := httptest.NewServer(Handler(m))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(events.NewAuth("org-1", events.RoleAdmin, "token-org-1")))

	ok := readFrame(t, conn)
	require.Equal(t, events.TypeAuthOK, ok.Type)
	assert.JSONEq(t, `{"organizationId":"org-1","role":"admin"}`, string(ok.Payload))

	m.Broadcast(events.PostDeleted{OrgID: "org-2", PostID: "other"})
	m.Broadcast(events.PostDeleted{OrgID: "org-1", PostID: "mine"})

	f := readFrame(t, conn)
	ev, err := events.DecodePayload(events.Kind(f.Type), f.Payload)
	require.NoError(t, err)
	assert.Equal(t, events.PostDeleted{OrgID: "org-1", PostID: "mine"}, ev)
}

func TestHandler_AuthErrors(t *testing.T) {
	tests := []struct {
		name string
		auth events.Auth
		want string
	}{
		{name: "invalid token", auth: events.NewAuth("org-1", events.RoleEmployee, "garbage"), want: "invalid token"},
		{name: "org mismatch", auth: events.NewAuth("org-2", events.RoleEmployee, "token-org-1"), want: "organization mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, WithAuthenticator(testAuthenticator))
			srv := httptest.NewServer(Handler(m))
			defer srv.Close()

			conn := dial(t, srv)
			require.NoError(t, conn.WriteJSON(tt.auth))

			f := readFrame(t, conn)
			assert.Equal(t, events.TypeAuthError, f.Type)
			assert.Contains(t, string(f.Payload), tt.want)

			assert.Equal(t, 0, m.Broadcast(events.PostDeleted{OrgID: "org-1", PostID: "p"}))
		})
	}
}

func TestHandler_Ping(t *testing.T) {
	m, _ := newTestManager(t)
	srv := httptest.NewServer(Handler(m))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": events.TypePing}))
	assert.Equal(t, events.TypePong, readFrame(t, conn).Type)
}
