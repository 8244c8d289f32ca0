package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/exp/slog"
	"golang.org/x/oauth2"
	"shabe/relay/impl"
	"shabe/relay/internal"
)

type Env struct {
	Port               int    `env:"PORT,default=8080"`
	InstanceID         string `env:"INSTANCE_ID"`
	ServiceDomain      string `env:"SERVICE_DOMAIN"`
	RedisURL           string `env:"REDIS_URL"`
	AllowedOrigins     string `env:"ALLOWED_ORIGINS,default=meet.google.com"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	OAuthRedirectURL   string `env:"OAUTH_REDIRECT_URL"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
}

func doMain(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := Env{}
	if err := envconfig.Process(ctx, &env); err != nil {
		return err
	}

	if env.InstanceID == "" {
		kid, err := ksuid.NewRandom()
		if err != nil {
			return err
		}
		env.InstanceID = kid.String()
	}

	logger = logger.With(slog.String("instance", env.InstanceID))

	var rdb *redis.Client
	if env.RedisURL != "" {
		rOpts, err := redis.ParseURL(env.RedisURL)
		if err != nil {
			return err
		}

		rdb = redis.NewClient(rOpts)
		if err := rdb.Info(ctx).Err(); err != nil {
			return err
		}
	}

	var oauthCfg *oauth2.Config
	var verify internal.TokenVerifier
	if env.GoogleClientID != "" {
		oauthCfg = internal.OAuthConfig(env.GoogleClientID, env.GoogleClientSecret, env.OAuthRedirectURL)
		verify = internal.NewGoogleVerifier(oauthCfg)
	} else {
		logger.Warn("no oauth client configured, connections are unauthenticated")
	}

	var translate internal.Translator
	if env.OpenAIAPIKey != "" {
		translate = internal.NewOpenAITranslator(env.OpenAIAPIKey)
	} else {
		logger.Warn("no translator configured, messages are forwarded verbatim")
	}

	origins := strings.Split(env.AllowedOrigins, ",")
	router := internal.Main(logger, ctx, env.InstanceID, rdb, oauthCfg, verify, translate, origins)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", env.Port),
		Handler: router,
	}

	if env.ServiceDomain != "" && rdb != nil {
		tlsConfig, err := impl.TLSConfig(ctx, env.ServiceDomain, rdb)
		if err != nil {
			return err
		}
		server.TLSConfig = tlsConfig
	}

	//goland:noinspection GoUnhandledErrorResult
	defer server.Close()

	ec := make(chan error)
	go func() {
		logger.Debug("starting...", slog.String("address", server.Addr))

		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			ec <- err
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sc:
		logger.Warn("shutdown signal", slog.String("signal", sig.String()))
	case err := <-ec:
		logger.Error("failed to start http server", err)
	}

	return nil
}

func main() {
	handler := slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug}
	logger := slog.New(handler.NewTextHandler(os.Stdout))

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	if err := doMain(logger); err != nil {
		logger.Error("failed to start", err)
		os.Exit(1)
	}
}
