package websocket

import (
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"murmur/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var (
	ErrSendBufferFull = errors.New("websocket: send buffer full")
	ErrClientClosed   = errors.New("websocket: client closed")
)

// Client is one server-side connection.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *Manager

	mu         sync.Mutex
	identity   Identity
	subscribed bool
	closed     bool
}

func newClient(conn *websocket.Conn, m *Manager) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, m.sendBuffer),
		manager: m,
	}
}

func (c *Client) ID() string {
	return c.id
}

// Identity returns the subscription identity once AUTH has succeeded.
func (c *Client) Identity() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.subscribed
}

// enqueue never blocks; a slow reader fills its buffer and gets dropped
// instead of stalling the broadcaster.
func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (m *Manager) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(m.allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(m.allowedOrigins, origin)
		},
	}
}

// Handler upgrades the request and serves the connection until it closes.
// Clients subscribe by sending an AUTH message; a ?token= query parameter is
// accepted as a shortcut for the same thing.
func Handler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up := m.upgrader()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		c := newClient(conn, m)

		if err := m.Register(c); err != nil {
			m.logger.Warn("websocket connection rejected", "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		if token := r.URL.Query().Get("token"); token != "" {
			c.authenticate(events.Inbound{Type: events.TypeAuth, Token: token})
		}

		go c.writePump()
		go c.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.manager.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.manager.logger.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		in, err := events.ParseInbound(message)
		if err != nil {
			c.manager.logger.Debug("ignoring malformed client message", "client", c.id, "error", err)
			continue
		}

		switch in.Type {
		case events.TypeAuth:
			c.authenticate(in)
		case events.TypePing:
			c.reply(events.TypePong, map[string]any{"time": time.Now().Unix()})
		default:
			c.manager.logger.Debug("ignoring client message", "client", c.id, "type", in.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				c.manager.logger.Warn("websocket write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// authenticate validates an AUTH message and subscribes the connection to the
// token's organization. The organization claimed in the message must match
// the token; the role always comes from the token.
func (c *Client) authenticate(in events.Inbound) {
	if c.manager.authenticate == nil {
		c.reply(events.TypeAuthError, map[string]string{"error": "authentication unavailable"})
		return
	}

	id, err := c.manager.authenticate(in.Token)
	if err != nil {
		c.manager.logger.Info("websocket auth rejected", "client", c.id, "error", err)
		c.reply(events.TypeAuthError, map[string]string{"error": "invalid token"})
		return
	}
	if in.OrganizationID != "" && in.OrganizationID != id.OrgID {
		c.manager.logger.Info("websocket auth org mismatch", "client", c.id, "claimed", in.OrganizationID, "token", id.OrgID)
		c.reply(events.TypeAuthError, map[string]string{"error": "organization mismatch"})
		return
	}

	c.manager.Subscribe(c, id)
	c.reply(events.TypeAuthOK, map[string]string{"organizationId": id.OrgID, "role": string(id.Role)})
}

func (c *Client) reply(typ string, payload any) {
	frame, err := events.ControlFrame(typ, payload)
	if err != nil {
		c.manager.logger.Error("failed to encode control frame", "type", typ, "error", err)
		return
	}
	if err := c.enqueue(frame); err != nil {
		c.manager.logger.Debug("failed to queue control frame", "client", c.id, "type", typ, "error", err)
	}
}
