package internal

import (
	"strings"
	"sync"
)

const (
	FrameTypePreferences = "preferences"
	FrameTypeMessage     = "message"
)

const (
	DefaultLanguage = "en"
	DefaultName     = "Anonymous"
)

// Frame is the JSON envelope shared by both directions of the wire protocol.
// Clients may echo a roomId inside message frames; the server ignores it in
// favor of the room the connection was bound to at upgrade time.
type Frame struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Name     string `json:"name,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
}

type Preferences struct {
	Language string
	Name     string
}

// sendQueueSize bounds the per-member outbound queue. A member that falls
// this far behind starts losing messages rather than stalling the room.
const sendQueueSize = 256

// Member is one live connection registered in a room.
type Member struct {
	id     string
	room   string
	frames chan Frame

	mu    sync.Mutex
	prefs Preferences
}

func newMember(id, room string) *Member {
	return &Member{
		id:     id,
		room:   room,
		frames: make(chan Frame, sendQueueSize),
		prefs: Preferences{
			Language: DefaultLanguage,
			Name:     DefaultName,
		},
	}
}

func (m *Member) ID() string   { return m.id }
func (m *Member) Room() string { return m.room }

// Frames is the queue the connection's write loop drains.
func (m *Member) Frames() <-chan Frame { return m.frames }

// SetPreferences merges a preferences frame. Empty fields keep their current
// value, so a frame carrying only a language does not wipe the name.
func (m *Member) SetPreferences(language, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if language != "" {
		m.prefs.Language = language
	}
	if name != "" {
		m.prefs.Name = name
	}
}

func (m *Member) Prefs() Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs
}

// Send queues a frame for the member's write loop. Delivery is best effort:
// when the queue is full the frame is dropped for this member only.
func (m *Member) Send(f Frame) bool {
	select {
	case m.frames <- f:
		return true
	default:
		return false
	}
}

func trimText(text string) string {
	return strings.TrimSpace(text)
}
