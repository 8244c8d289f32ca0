package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/oauth2"
)

// Main wires the relay. rdb may be nil for single-instance deployments; the
// cross-instance event loop and presence tracking are skipped in that case.
// A nil verifier disables auth enforcement on /ws, a nil translator forwards
// text verbatim.
func Main(
	logger *slog.Logger,
	ctx context.Context,
	instanceID string,
	rdb *redis.Client,
	oauthCfg *oauth2.Config,
	verify TokenVerifier,
	translate Translator,
	origins []string,
) chi.Router {
	registry := NewRegistry(logger, translate)

	if rdb != nil {
		go SubscribeEvents(ctx, logger, registry, rdb, instanceID)
	}

	corsOrigin := ""
	if len(origins) > 0 {
		corsOrigin = fmt.Sprintf("https://%v", origins[0])
	}

	router := chi.NewRouter()
	router.Use(mid(instanceID, corsOrigin))
	router.Get("/health", health())
	router.Get("/stats", stats(registry))

	if oauthCfg != nil {
		router.Get("/auth/login", LoginRoute(oauthCfg))
		router.Get("/auth/callback", CallbackRoute(oauthCfg))
		router.Get("/auth/user", UserRoute(verify))
	}

	router.Get("/ws", JoinRoute(registry, logger, rdb, verify, instanceID, origins))

	return router
}

func health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func stats(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, members := registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "members": members})
	}
}

func mid(instanceID, corsOrigin string) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "relay")
			w.Header().Set("Instance-ID", instanceID)

			if corsOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", corsOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			handler.ServeHTTP(w, r)
		})
	}
}
