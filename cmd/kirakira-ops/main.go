// Command kirakira-ops runs one-shot operator tasks against the database, the
// Telegram Bot API and the admin endpoints of a running API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kirakira-garden/kirakira-api/internal/auth"
	"github.com/kirakira-garden/kirakira-api/internal/config"
	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/logging"
	"github.com/kirakira-garden/kirakira-api/internal/telegram"
)

const usage = `usage: kirakira-ops <command> [flags]

commands:
  migrate                 apply the database schema (needs KIRAKIRA_ADMIN_DATABASE_URL)
  ping                    check both database credentials
  issue-service-token     print an operator token for the admin endpoints
  set-webhook -url URL    register the bot webhook
  set-commands            publish the bot command menu
  recompute-stats         recompute every user's stored streaks
  backfill-seasons        set the season of plants planted before seasons existed
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return withDB(ctx, cfg, func(database *db.DB) error {
			if err := database.Migrate(ctx); err != nil {
				return err
			}
			log.Infow("schema applied")
			return nil
		})

	case "ping":
		return withDB(ctx, cfg, func(database *db.DB) error {
			if err := database.Ping(ctx); err != nil {
				return err
			}
			log.Infow("database reachable", "admin", database.HasAdmin())
			return nil
		})

	case "issue-service-token":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return issueServiceToken(cfg, *ttl, out)

	case "set-webhook":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		url := fs.String("url", "", "public HTTPS URL Telegram posts updates to")
		secret := fs.String("secret", "", "value Telegram sends in X-Telegram-Bot-Api-Secret-Token")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *url == "" {
			return fmt.Errorf("%w: -url is required", errUsage)
		}
		return withBot(cfg, func(bot *telegram.Client) error {
			if err := bot.SetWebhook(ctx, *url, *secret); err != nil {
				return err
			}
			log.Infow("webhook set", "url", *url)
			return nil
		})

	case "set-commands":
		return withBot(cfg, func(bot *telegram.Client) error {
			if err := bot.SetMyCommands(ctx, telegram.DefaultCommands); err != nil {
				return err
			}
			log.Infow("commands set", "count", len(telegram.DefaultCommands))
			return nil
		})

	case "recompute-stats":
		return callAdmin(ctx, cfg, log, "/api/admin/stats/recompute", out)

	case "backfill-seasons":
		return callAdmin(ctx, cfg, log, "/api/admin/seasons/backfill", out)
	}

	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func withDB(ctx context.Context, cfg *config.Config, fn func(*db.DB) error) error {
	if cfg.DatabaseURL == "" {
		return config.ErrMissingDatabaseURL
	}
	database, err := db.New(ctx, cfg.DatabaseURL, cfg.AdminDatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	return fn(database)
}

func withBot(cfg *config.Config, fn func(*telegram.Client) error) error {
	bot, err := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIURL)
	if err != nil {
		return err
	}
	return fn(bot)
}

func issueServiceToken(cfg *config.Config, ttl time.Duration, out io.Writer) error {
	issuer, err := auth.NewIssuer([]byte(cfg.JWTSecret), ttl)
	if err != nil {
		return err
	}
	token, expiry, err := issuer.Issue(auth.Identity{Role: auth.RoleService})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n# expires %s\n", token, expiry.Format(time.RFC3339))
	return nil
}

func callAdmin(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, path string, out io.Writer) error {
	client, err := newAdminClient(ctx, cfg.APIURL, cfg.ServiceToken)
	if err != nil {
		return err
	}
	body, err := client.post(ctx, path)
	if err != nil {
		return err
	}
	log.Infow("admin operation finished", "path", path)
	_, err = fmt.Fprintln(out, string(body))
	return err
}
