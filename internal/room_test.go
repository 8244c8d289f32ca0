package internal

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	handler := slog.HandlerOptions{}
	return slog.New(handler.NewTextHandler(io.Discard))
}

func newMockTranslator() Translator {
	translations := map[string]string{
		"en->ja:hello":       "こんにちは",
		"ja->en:こんにちは":       "hello",
		"en->ja:how are you": "お元気ですか？",
	}

	return func(ctx context.Context, text, from, to string) (string, error) {
		if from == to {
			return text, nil
		}
		if translated, ok := translations[from+"->"+to+":"+text]; ok {
			return translated, nil
		}
		return text, nil
	}
}

func recvFrame(t *testing.T, m *Member) Frame {
	t.Helper()
	select {
	case f := <-m.Frames():
		return f
	default:
		t.Fatal("expected a queued frame")
		return Frame{}
	}
}

func assertNoFrame(t *testing.T, m *Member) {
	t.Helper()
	select {
	case f := <-m.Frames():
		t.Fatalf("unexpected frame: %+v", f)
	default:
	}
}

func TestRegistryJoinLeave(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)

	a := registry.Join("room-1", "a")
	b := registry.Join("room-1", "b")
	c := registry.Join("room-2", "c")

	rooms, members := registry.Stats()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 3, members)

	registry.Leave(a)
	registry.Leave(b)

	rooms, members = registry.Stats()
	assert.Equal(t, 1, rooms, "empty room should be removed")
	assert.Equal(t, 1, members)

	registry.Leave(c)
	// leaving twice is harmless
	registry.Leave(c)

	rooms, members = registry.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, members)
}

func TestRelayFanOut(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	alice := registry.Join("abc-defg-hij", "c1")
	alice.SetPreferences("en", "Alice")

	bob := registry.Join("abc-defg-hij", "c2")
	bob.SetPreferences("ja", "Bob")

	registry.Relay(ctx, alice, "Hello")

	frame := recvFrame(t, bob)
	assert.Equal(t, FrameTypeMessage, frame.Type)
	assert.Equal(t, "Hello", frame.Text)
	assert.Equal(t, "Alice", frame.Name)
	assert.Equal(t, "en", frame.Language)

	// the sender never sees its own message
	assertNoFrame(t, alice)
}

func TestRelayDefaultPreferences(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	sender := registry.Join("r", "a")
	peer := registry.Join("r", "b")

	registry.Relay(ctx, sender, "hi")

	frame := recvFrame(t, peer)
	assert.Equal(t, DefaultName, frame.Name)
	assert.Equal(t, DefaultLanguage, frame.Language)
}

func TestRelayRoomIsolation(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	a := registry.Join("room-1", "a")
	b := registry.Join("room-1", "b")
	other := registry.Join("room-2", "c")

	registry.Relay(ctx, a, "private")

	recvFrame(t, b)
	assertNoFrame(t, other)
}

func TestRelayDropsEmptyText(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	a := registry.Join("r", "a")
	b := registry.Join("r", "b")

	registry.Relay(ctx, a, "")
	registry.Relay(ctx, a, "   \t\n")

	assertNoFrame(t, b)
}

func TestPreferencesApplyToNextMessageOnly(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	a := registry.Join("r", "a")
	a.SetPreferences("en", "Alice")
	b := registry.Join("r", "b")

	registry.Relay(ctx, a, "first")
	a.SetPreferences("fr", "Alicia")
	registry.Relay(ctx, a, "second")

	first := recvFrame(t, b)
	assert.Equal(t, "Alice", first.Name)
	assert.Equal(t, "en", first.Language)

	second := recvFrame(t, b)
	assert.Equal(t, "Alicia", second.Name)
	assert.Equal(t, "fr", second.Language)
}

func TestPreferencesMergeKeepsUnsetFields(t *testing.T) {
	m := newMember("a", "r")
	m.SetPreferences("ja", "Bob")
	m.SetPreferences("ko", "")

	prefs := m.Prefs()
	assert.Equal(t, "ko", prefs.Language)
	assert.Equal(t, "Bob", prefs.Name)
}

func TestRelayTranslatesPerPeer(t *testing.T) {
	registry := NewRegistry(testLogger(), newMockTranslator())
	ctx := context.Background()

	alice := registry.Join("r", "a")
	alice.SetPreferences("en", "Alice")

	bob := registry.Join("r", "b")
	bob.SetPreferences("ja", "Bob")

	carol := registry.Join("r", "c")
	carol.SetPreferences("en", "Carol")

	registry.Relay(ctx, alice, "hello")

	translated := recvFrame(t, bob)
	assert.Equal(t, "こんにちは", translated.Text)
	assert.Equal(t, "en", translated.Language, "frames carry the sender's language")

	verbatim := recvFrame(t, carol)
	assert.Equal(t, "hello", verbatim.Text, "same-language peers skip translation")
}

func TestTranslationFailureFallsBack(t *testing.T) {
	failing := func(ctx context.Context, text, from, to string) (string, error) {
		return "", fmt.Errorf("nope")
	}

	registry := NewRegistry(testLogger(), failing)
	ctx := context.Background()

	a := registry.Join("r", "a")
	b := registry.Join("r", "b")
	b.SetPreferences("ja", "")

	registry.Relay(ctx, a, "hello")

	frame := recvFrame(t, b)
	assert.Equal(t, "hello", frame.Text)
}

func TestNoBacklogOnJoin(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	a := registry.Join("r", "a")
	b := registry.Join("r", "b")

	registry.Relay(ctx, a, "before")
	recvFrame(t, b)

	late := registry.Join("r", "late")
	assertNoFrame(t, late)
}

func TestSlowPeerDoesNotStallFanOut(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	a := registry.Join("r", "a")
	slow := registry.Join("r", "slow")
	fast := registry.Join("r", "fast")

	for i := 0; i < sendQueueSize; i++ {
		slow.Send(Frame{Type: FrameTypeMessage, Text: "fill"})
	}

	registry.Relay(ctx, a, "urgent")

	// drain the fast peer entirely, its copy must be there
	got := false
	for {
		select {
		case f := <-fast.Frames():
			if f.Text == "urgent" {
				got = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, got)
}

func TestLeaveDoesNotDisruptOthers(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	a := registry.Join("r", "a")
	b := registry.Join("r", "b")
	c := registry.Join("r", "c")

	registry.Leave(b)
	registry.Relay(ctx, a, "still here")

	recvFrame(t, c)
	assertNoFrame(t, b)
}

func TestDeliverRemoteReachesAllLocalMembers(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	a := registry.Join("r", "a")
	b := registry.Join("r", "b")

	registry.DeliverRemote(ctx, "r", "from afar", "ja", "Bob")

	for _, m := range []*Member{a, b} {
		frame := recvFrame(t, m)
		assert.Equal(t, "from afar", frame.Text)
		assert.Equal(t, "Bob", frame.Name)
		assert.Equal(t, "ja", frame.Language)
	}
}
