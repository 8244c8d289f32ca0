package internal

import (
	"context"
	"sync"

	"golang.org/x/exp/slog"
)

// Registry is the room table. Rooms exist exactly as long as they have
// members; there is no history and nothing survives the process.
type Registry struct {
	logger    *slog.Logger
	translate Translator

	mu    sync.RWMutex
	rooms map[string]map[string]*Member
}

func NewRegistry(logger *slog.Logger, translate Translator) *Registry {
	return &Registry{
		logger:    logger,
		translate: translate,
		rooms:     make(map[string]map[string]*Member),
	}
}

// Join registers a new member with default preferences.
func (g *Registry) Join(room, id string) *Member {
	m := newMember(id, room)

	g.mu.Lock()
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[string]*Member)
		g.rooms[room] = members
	}
	members[m.id] = m
	count := len(members)
	g.mu.Unlock()

	g.logger.Info("joined", slog.String("room", room), slog.String("id", id), slog.Int("members", count))
	return m
}

// Leave removes the member immediately. No leave frames are sent; the last
// member out takes the room with it.
func (g *Registry) Leave(m *Member) {
	g.mu.Lock()
	members, ok := g.rooms[m.room]
	if ok {
		delete(members, m.id)
		if len(members) == 0 {
			delete(g.rooms, m.room)
		}
	}
	count := len(members)
	g.mu.Unlock()

	if !ok {
		return
	}

	g.logger.Info("left", slog.String("room", m.room), slog.String("id", m.id), slog.Int("members", count))
}

// Relay stamps text with the sender's current preferences and queues it for
// every other member of the sender's room. Empty text after trimming is
// dropped silently. The sender never gets its own message back.
func (g *Registry) Relay(ctx context.Context, sender *Member, text string) {
	text = trimText(text)
	if text == "" {
		return
	}

	prefs := sender.Prefs()
	if prefs.Name == "" {
		prefs.Name = DefaultName
	}

	g.deliver(ctx, sender.room, sender.id, text, prefs.Language, prefs.Name)
}

// DeliverRemote fans out a message that originated on another instance. The
// origin connection lives elsewhere, so every local member is a recipient.
func (g *Registry) DeliverRemote(ctx context.Context, room, text, language, name string) {
	g.deliver(ctx, room, "", text, language, name)
}

func (g *Registry) deliver(ctx context.Context, room, senderID, text, language, name string) {
	g.mu.RLock()
	members := g.rooms[room]
	peers := make([]*Member, 0, len(members))
	for id, m := range members {
		if id == senderID {
			continue
		}
		peers = append(peers, m)
	}
	g.mu.RUnlock()

	for _, peer := range peers {
		out := text
		if g.translate != nil {
			if to := peer.Prefs().Language; to != language {
				if translated, err := g.translate(ctx, text, language, to); err != nil {
					g.logger.Error("translation failed", err, slog.String("room", room))
				} else {
					out = translated
				}
			}
		}

		queued := peer.Send(Frame{
			Type:     FrameTypeMessage,
			Text:     out,
			Name:     name,
			Language: language,
		})
		if !queued {
			g.logger.Warn("peer queue full, message dropped",
				slog.String("room", room), slog.String("id", peer.id))
		}
	}
}

// Stats reports the current table size.
func (g *Registry) Stats() (rooms, members int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rooms = len(g.rooms)
	for _, r := range g.rooms {
		members += len(r)
	}
	return rooms, members
}
