package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"golang.org/x/exp/slog"

	"nhooyr.io/websocket"
)

// JoinRoute upgrades /ws?roomId=...&token=... into a room membership. The
// room id is bound for the lifetime of the connection. When a verifier is
// configured, an invalid or missing token fails the handshake; there are no
// structured error frames, the close status is all a client gets.
func JoinRoute(
	registry *Registry,
	logger *slog.Logger,
	rdb *redis.Client,
	verify TokenVerifier,
	instanceID string,
	origins []string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		roomID := r.URL.Query().Get("roomId")
		if roomID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var user *UserInfo
		if verify != nil {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = BearerToken(r)
			}

			info, err := verify(ctx, token)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			user = info
		}

		kid, err := ksuid.NewRandom()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		id := kid.String()
		rid := fmt.Sprintf("conn:%v", id)
		log := logger.With(slog.String("id", id), slog.String("room", roomID))

		opts := &websocket.AcceptOptions{
			OriginPatterns: origins,
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}

		member := registry.Join(roomID, id)
		if user != nil && user.Name != "" {
			member.SetPreferences("", user.Name)
		}

		now := time.Now()
		if rdb != nil {
			data := map[string]string{
				"inst": instanceID,
				"room": roomID,
				"join": strconv.Itoa(int(now.Unix())),
				"recv": "0",
				"sent": "0",
			}

			if err := rdb.HSet(ctx, rid, data).Err(); err != nil {
				log.Error("failed to record presence", err)
			} else if err := rdb.Expire(ctx, rid, 90*time.Second).Err(); err != nil {
				log.Error("failed to set presence expiry", err)
			}
		}

		defer func() {
			registry.Leave(member)
			if rdb != nil {
				if err := rdb.Del(context.Background(), rid).Err(); err != nil {
					log.Error("failed to cleanup presence", err)
				}
			}
		}()

		go func() {
			defer cancel()
			for {
				_, b, err := conn.Read(ctx)
				if err != nil {
					return
				}

				frame := Frame{}
				if err := json.Unmarshal(b, &frame); err != nil {
					log.Warn("ignoring malformed frame")
					continue
				}

				switch frame.Type {
				case FrameTypePreferences:
					member.SetPreferences(frame.Language, frame.Name)
				case FrameTypeMessage:
					text := trimText(frame.Text)
					if text == "" {
						continue
					}

					registry.Relay(ctx, member, text)
					PublishMessage(ctx, log, rdb, instanceID, member, text)

					if rdb != nil {
						if err := rdb.HIncrBy(ctx, rid, "recv", 1).Err(); err != nil {
							log.Error("failed to update received messages stats", err)
						}
					}
				default:
					log.Warn("ignoring unknown frame type", slog.String("type", frame.Type))
				}
			}
		}()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(45 * time.Second):
					if err := conn.Ping(ctx); err != nil {
						log.Error("failed to ping", err)
						_ = conn.Close(websocket.StatusAbnormalClosure, "hello?")
						return
					}

					if rdb != nil {
						if err := rdb.Expire(ctx, rid, 60*time.Second).Err(); err != nil {
							log.Error("failed to extend presence expiry", err)
						}
					}
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info("left")
				return
			case frame := <-member.Frames():
				b, err := json.Marshal(frame)
				if err != nil {
					log.Error("failed to marshal frame", err)
					continue
				}

				if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
					log.Error("failed to write message", err)
					return
				}

				if rdb != nil {
					if err := rdb.HIncrBy(ctx, rid, "sent", 1).Err(); err != nil {
						log.Error("failed to update sent messages stats", err)
					}
				}
			}
		}
	}
}
