package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"murmur/events"
)

// Scope selects which connections a broadcast reaches.
type Scope string

const (
	// ScopeOrg delivers an event only to connections subscribed to the
	// event's organization.
	ScopeOrg Scope = "org"
	// ScopeAll delivers every event to every open connection and leaves
	// organization filtering to the receivers. Any connected socket can read
	// other organizations' posts in this mode.
	ScopeAll Scope = "all"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeOrg, ScopeAll:
		return Scope(s), nil
	case "":
		return ScopeOrg, nil
	}
	return "", fmt.Errorf("unknown broadcast scope %q", s)
}

var ErrManagerClosed = errors.New("websocket: manager is shut down")

// Identity is what a validated token says about a connection.
type Identity struct {
	UserID string
	OrgID  string
	Role   events.Role
}

// Authenticator validates the token carried by an AUTH message.
type Authenticator func(token string) (Identity, error)

// Manager is the registry of live connections. It is created once per
// process and handed to whatever publishes events.
type Manager struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	scope          Scope
	authenticate   Authenticator
	allowedOrigins []string
	sendBuffer     int
	metrics        *Metrics
	logger         *slog.Logger
}

type Option func(*Manager)

func WithScope(s Scope) Option {
	return func(m *Manager) { m.scope = s }
}

func WithAuthenticator(a Authenticator) Option {
	return func(m *Manager) { m.authenticate = a }
}

// WithAllowedOrigins restricts the Origin header on upgrade. Empty allows all.
func WithAllowedOrigins(origins []string) Option {
	return func(m *Manager) { m.allowedOrigins = origins }
}

func WithSendBuffer(n int) Option {
	return func(m *Manager) { m.sendBuffer = n }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		clients:    make(map[*Client]struct{}),
		scope:      ScopeOrg,
		sendBuffer: 256,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if m.scope == ScopeAll {
		m.logger.Warn("broadcast scope is 'all': every connection receives every organization's events")
	}
	return m
}

func (m *Manager) Scope() Scope {
	return m.scope
}

// Register adds c to the registry. It fails once Shutdown has run.
func (m *Manager) Register(c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	m.clients[c] = struct{}{}
	m.metrics.ConnectedClients.Set(float64(len(m.clients)))
	m.logger.Info("websocket client registered", "client", c.id, "total", len(m.clients))
	return nil
}

// Unregister removes c and closes its send buffer. Safe to call repeatedly.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	_, ok := m.clients[c]
	delete(m.clients, c)
	total := len(m.clients)
	m.metrics.ConnectedClients.Set(float64(total))
	m.mu.Unlock()

	c.close()
	if ok {
		m.logger.Info("websocket client unregistered", "client", c.id, "total", total)
	}
}

// Subscribe attaches c to the topic of id's organization. A connection
// follows one organization; subscribing again replaces the previous one.
func (m *Manager) Subscribe(c *Client, id Identity) {
	c.mu.Lock()
	c.identity = id
	c.subscribed = true
	c.mu.Unlock()
	m.logger.Info("websocket client subscribed", "client", c.id, "org", id.OrgID, "role", id.Role)
}

// ConnectedClients returns the number of registered connections.
func (m *Manager) ConnectedClients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast frames e once and queues it on every open connection in scope.
// Delivery is best effort: a connection whose buffer is full or closed is
// logged, counted and dropped, and the remaining connections still receive
// the frame. It returns the number of connections the frame was queued on.
func (m *Manager) Broadcast(e events.Event) int {
	frame, err := events.Encode(e)
	if err != nil {
		m.logger.Error("failed to encode event", "kind", e.Kind(), "error", err)
		return 0
	}
	m.metrics.Broadcasts.WithLabelValues(string(e.Kind())).Inc()

	m.mu.RLock()
	targets := make([]*Client, 0, len(m.clients))
	for c := range m.clients {
		if m.inScope(c, e.Org()) {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	delivered := 0
	var failed []*Client
	for _, c := range targets {
		if err := c.enqueue(frame); err != nil {
			m.logger.Warn("failed to deliver event", "client", c.id, "kind", e.Kind(), "error", err)
			m.metrics.SendFailures.Inc()
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	m.metrics.Deliveries.Add(float64(delivered))

	for _, c := range failed {
		m.Unregister(c)
	}

	m.logger.Debug("broadcast event", "kind", e.Kind(), "org", e.Org(), "delivered", delivered, "failed", len(failed))
	return delivered
}

func (m *Manager) inScope(c *Client, orgID string) bool {
	if m.scope == ScopeAll {
		return true
	}
	id, ok := c.Identity()
	return ok && id.OrgID == orgID
}

// Shutdown closes every connection's send buffer; write pumps then send a
// close frame and exit. Later Register calls fail.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	clients := make([]*Client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[*Client]struct{})
	m.metrics.ConnectedClients.Set(0)
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	m.logger.Info("websocket manager shut down", "closed", len(clients))
}
