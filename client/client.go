// Package client maintains one live relay connection per manager, surviving
// transient network failures and keeping preferences synchronized.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Message mirrors the relay's wire frames.
type Message struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Delay maps a reconnect attempt to the wait before dialing again. The
// policy is a fixed delay rather than exponential backoff; the goal is only
// to avoid a tight reconnect loop against a down server. Attempt 0 is the
// first dial and waits nothing.
func Delay(attempt int, fixed time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return fixed
}

const (
	DefaultReconnectDelay = 2 * time.Second
	writeTimeout          = 5 * time.Second
	dialTimeout           = 10 * time.Second
)

type Options struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token is an optional bearer token passed at connect time.
	Token string
	// ReconnectDelay overrides DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// OnMessage receives every message frame delivered by the relay.
	OnMessage func(Message)
	// OnState is invoked on every state transition, for status indicators.
	OnState func(State)
}

// Manager owns at most one live connection. Join replaces any prior
// connection; Leave tears it down and cancels any pending reconnect.
type Manager struct {
	logger *slog.Logger
	opts   Options

	mu       sync.Mutex
	state    State
	language string
	name     string
	conn     *websocket.Conn
	cancel   context.CancelFunc
	// gen invalidates run loops left over from a previous Join, so a stale
	// reconnect can never resurrect a room the user already left.
	gen int
}

func New(logger *slog.Logger, opts Options) *Manager {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}

	return &Manager{
		logger:   logger,
		opts:     opts,
		state:    StateIdle,
		language: "en",
	}
}

// Join connects to the given room, closing any prior connection first. The
// connection is established asynchronously; OnState reports progress.
// Reconnection stops when ctx is cancelled or Leave is called.
func (m *Manager) Join(ctx context.Context, roomID string) {
	m.Leave()

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.run(runCtx, roomID, gen)
}

// Leave closes the connection. The transport close is the only signal the
// relay needs.
func (m *Manager) Leave() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.gen++
	changed := m.state != StateIdle
	m.state = StateIdle
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "leaving")
	}
	if changed && m.opts.OnState != nil {
		m.opts.OnState(StateIdle)
	}
}

// SetPreferences stores the preferences and, when connected, re-sends them
// live. No reconnect is required for a preference change. Empty fields keep
// their current value.
func (m *Manager) SetPreferences(language, name string) {
	m.mu.Lock()
	if language != "" {
		m.language = language
	}
	if name != "" {
		m.name = name
	}
	m.mu.Unlock()

	m.sendPreferences()
}

// Send relays one finalized text segment. Empty text after trimming is
// dropped, mirroring the relay. Delivery is fire and forget; an error only
// means the local connection was down at the time.
func (m *Manager) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	conn := m.conn
	language := m.language
	name := m.name
	m.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	return m.write(conn, Message{
		Type:     "message",
		Text:     text,
		Language: language,
		Name:     name,
	})
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) run(ctx context.Context, roomID string, gen int) {
	defer m.setState(StateIdle, gen)

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(Delay(attempt, m.opts.ReconnectDelay)):
		}

		m.setState(StateConnecting, gen)

		conn, err := m.dial(ctx, roomID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			m.logger.Warn("dial failed", slog.String("room", roomID), slog.Int("attempt", attempt))
			m.setState(StateBackoff, gen)
			continue
		}

		if !m.adopt(conn, gen) {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
			return
		}

		attempt = 0
		m.setState(StateConnected, gen)
		m.sendPreferences()

		m.readLoop(ctx, conn)
		m.disown(conn, gen)

		// A deliberate close means the manager is done with this room;
		// anything else is abnormal and gets a delayed reconnect.
		if ctx.Err() != nil {
			return
		}

		m.setState(StateBackoff, gen)
	}
}

func (m *Manager) dial(ctx context.Context, roomID string) (*websocket.Conn, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, err
	}

	params := u.Query()
	params.Set("roomId", roomID)
	if m.opts.Token != "" {
		params.Set("token", m.opts.Token)
	}
	u.RawQuery = params.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, u.String(), nil)
	return conn, err
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msg := Message{}
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		if msg.Type != "message" {
			continue
		}

		if m.opts.OnMessage != nil {
			m.opts.OnMessage(msg)
		}
	}
}

func (m *Manager) sendPreferences() {
	m.mu.Lock()
	conn := m.conn
	language := m.language
	name := m.name
	m.mu.Unlock()

	if conn == nil {
		return
	}

	err := m.write(conn, Message{
		Type:     "preferences",
		Language: language,
		Name:     name,
	})
	if err != nil {
		m.logger.Warn("failed to send preferences")
	}
}

func (m *Manager) write(conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, msg)
}

func (m *Manager) adopt(conn *websocket.Conn, gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		return false
	}

	m.conn = conn
	return true
}

func (m *Manager) disown(conn *websocket.Conn, gen int) {
	m.mu.Lock()
	if m.gen == gen && m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) setState(s State, gen int) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}

	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if changed && m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}
