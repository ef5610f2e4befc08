// Package client keeps a feed client connected to the broadcast gateway.
//
// A Supervisor dials, authenticates, forwards every inbound frame in receipt
// order, and reconnects with bounded exponential backoff when the connection
// drops. After MaxAttempts consecutive failed reconnects it gives up with
// ErrReconnectExhausted; the caller decides how to tell the user that the
// feed is now stale.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"murmur/events"
)

const (
	MaxAttempts = 5
	BaseDelay   = time.Second
	MaxDelay    = 30 * time.Second

	writeWait = 10 * time.Second
)

var ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")

type State int

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Backoff returns the delay before reconnect attempt n (0-based):
// 1s, 2s, 4s, ... capped at MaxDelay.
func Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n >= 5 {
		return MaxDelay
	}
	return min(BaseDelay<<n, MaxDelay)
}

// Conn is the subset of *websocket.Conn the supervisor uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type DialFunc func(ctx context.Context, url string) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// WebsocketDialer dials with gorilla/websocket, sending header on the
// upgrade request.
func WebsocketDialer(header http.Header) Dialer {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	return DialFunc(func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := d.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

type Config struct {
	// URL is the gateway endpoint, e.g. ws://host/ws.
	URL string
	// Auth, when set, is sent every time a connection opens.
	Auth *events.Auth
	// MaxAttempts overrides the reconnect limit; zero means MaxAttempts.
	MaxAttempts int
	// OnStateChange is called after every transition, outside any lock.
	OnStateChange func(State)
}

type Supervisor struct {
	cfg    Config
	dialer Dialer
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
	frames chan []byte

	mu      sync.Mutex
	state   State
	conn    Conn
	cancel  context.CancelFunc
	started bool
	closed  bool

	// writeMu serialises socket writes apart from mu, so a stalled write
	// never holds up State or Close.
	writeMu sync.Mutex
}

type Option func(*Supervisor)

func WithDialer(d Dialer) Option {
	return func(s *Supervisor) { s.dialer = d }
}

// WithSleep replaces the backoff wait. The function must return early with
// an error when ctx is done.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithBuffer sets how many inbound frames may queue before the read loop
// waits for the consumer.
func WithBuffer(n int) Option {
	return func(s *Supervisor) { s.frames = make(chan []byte, n) }
}

func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttempts
	}
	s := &Supervisor{
		cfg:    cfg,
		dialer: WebsocketDialer(nil),
		sleep:  sleepContext,
		logger: slog.Default(),
		frames: make(chan []byte, 64),
		state:  Closed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events delivers inbound frames in the order they were read. It is closed
// when Run returns.
func (s *Supervisor) Events() <-chan []byte {
	return s.frames
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send marshals v and writes it on the current connection. It returns false
// when the connection is not open or the write fails. Writes on connections
// that support it are bounded by a write deadline.
func (s *Supervisor) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode outbound message", "error", err)
		return false
	}

	s.mu.Lock()
	conn := s.conn
	open := s.state == Open && conn != nil
	s.mu.Unlock()
	if !open {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if d, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeWait))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}

// Close stops the supervisor. A running Run returns nil; a Run that has not
// started yet returns nil without dialing.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run connects and keeps reconnecting until ctx is cancelled (nil) or
// MaxAttempts consecutive reconnects fail (ErrReconnectExhausted). A
// successful open resets the attempt counter. Run may be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("client: supervisor already started")
	}
	s.started = true
	closed := s.closed
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.frames)

	if closed {
		return nil
	}

	attempts := 0
	for {
		s.setState(Connecting, nil)
		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		if err == nil {
			attempts = 0
			err = s.serve(ctx, conn)
		}
		s.setState(Closed, nil)

		if ctx.Err() != nil {
			return nil
		}
		if attempts >= s.cfg.MaxAttempts {
			s.logger.Error("giving up on gateway connection", "attempts", attempts, "error", err)
			return ErrReconnectExhausted
		}

		delay := Backoff(attempts)
		attempts++
		s.logger.Warn("gateway connection lost, reconnecting",
			"attempt", attempts, "max", s.cfg.MaxAttempts, "delay", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// serve runs one connection until it fails or ctx is done.
func (s *Supervisor) serve(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
	}()

	s.setState(Open, conn)
	if s.cfg.Auth != nil && !s.Send(s.cfg.Auth) {
		return errors.New("client: failed to send auth")
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case s.frames <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) setState(state State, conn Conn) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.conn = conn
	s.mu.Unlock()

	if changed {
		s.logger.Debug("gateway connection state", "state", state)
		if s.cfg.OnStateChange != nil {
			s.cfg.OnStateChange(state)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
