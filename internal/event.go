package internal

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

// eventChannel carries room messages between relay instances. Every instance
// subscribes once and filters on room membership locally.
const eventChannel = "relay:rooms"

// Event mirrors one message frame across instances. Instance identifies the
// publisher so an instance never re-delivers its own fan-out.
type Event struct {
	Instance string `json:"inst"`
	Room     string `json:"room"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Name     string `json:"name"`
}

// PublishMessage mirrors a locally relayed message to sibling instances.
// Publishing is fire-and-forget: a redis hiccup loses cross-instance copies
// but never the local fan-out. No-op without redis.
func PublishMessage(ctx context.Context, logger *slog.Logger, rdb *redis.Client, instanceID string, sender *Member, text string) {
	if rdb == nil {
		return
	}

	prefs := sender.Prefs()
	if prefs.Name == "" {
		prefs.Name = DefaultName
	}

	event := Event{
		Instance: instanceID,
		Room:     sender.Room(),
		Text:     text,
		Language: prefs.Language,
		Name:     prefs.Name,
	}

	b, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal event", err)
		return
	}

	if err := rdb.Publish(ctx, eventChannel, string(b)).Err(); err != nil {
		logger.Error("failed to publish event", err, slog.String("room", event.Room))
	}
}

// SubscribeEvents delivers messages published by sibling instances to local
// room members. Events published by this instance are skipped, since the
// local fan-out already happened.
func SubscribeEvents(ctx context.Context, logger *slog.Logger, registry *Registry, rdb *redis.Client, instanceID string) {
	sub := rdb.Subscribe(ctx, eventChannel)
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case msg := <-ch:
			event := Event{}
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Error("failed to unmarshal cluster event", err)
				continue
			}

			if event.Instance == instanceID {
				continue
			}

			registry.DeliverRemote(ctx, event.Room, event.Text, event.Language, event.Name)
		}
	}
}
