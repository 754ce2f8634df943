// Command kirakira-api runs the KiraKira HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kirakira-garden/kirakira-api/internal/access"
	"github.com/kirakira-garden/kirakira-api/internal/auth"
	"github.com/kirakira-garden/kirakira-api/internal/cache"
	"github.com/kirakira-garden/kirakira-api/internal/config"
	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/garden"
	"github.com/kirakira-garden/kirakira-api/internal/logging"
	"github.com/kirakira-garden/kirakira-api/internal/telegram"
	"github.com/kirakira-garden/kirakira-api/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		JSON:  cfg.IsProduction(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	database, err := db.New(ctx, cfg.DatabaseURL, cfg.AdminDatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	if !database.HasAdmin() {
		log.Warnw("admin database credential not configured; admin fallback and repair operations are unavailable")
	}

	leaderboards := openCache(ctx, cfg.RedisURL, log)
	defer leaderboards.Close()

	verifier, err := auth.NewVerifier([]byte(cfg.JWTSecret), log)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		return err
	}

	handlersCfg := web.HandlersConfig{
		Resolver:       access.NewResolver(database, verifier, log),
		Issuer:         issuer,
		Garden:         garden.NewService(log),
		Cache:          leaderboards,
		BotToken:       cfg.TelegramBotToken,
		InitDataMaxAge: cfg.InitDataMaxAge,
		Location:       loc,
		Log:            log,
	}
	if cfg.TelegramBotToken != "" {
		tg, err := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIURL)
		if err != nil {
			return err
		}
		handlersCfg.Photos = tg
	} else {
		log.Warnw("TELEGRAM_BOT_TOKEN not set; sign-in and profile photos are disabled")
	}

	server := web.NewServer(web.ServerConfig{
		Addr:    cfg.Addr,
		Origins: cfg.Origins(),
	}, web.NewHandlers(handlersCfg), log)

	log.Infow("configured",
		"environment", cfg.Environment,
		"timezone", loc.String(),
		"cache", leaderboards.Backend(),
		"admin", database.HasAdmin(),
	)
	return server.Run()
}

// openCache uses Redis when REDIS_URL is set and reachable, memory otherwise.
func openCache(ctx context.Context, url string, log *zap.SugaredLogger) *cache.Cache {
	if url == "" {
		return cache.New(nil)
	}
	rdb, err := cache.Open(ctx, url)
	if err != nil {
		log.Warnw("redis unavailable, falling back to in-memory cache", "error", err)
		return cache.New(nil)
	}
	log.Infow("connected to redis", "addr", rdb.Options().Addr)
	return cache.New(rdb)
}
