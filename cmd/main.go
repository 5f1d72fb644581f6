package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"calnote/internal/auth"
	"calnote/internal/config"
	"calnote/internal/google"
	"calnote/internal/kv"
	"calnote/internal/syncer"
	"calnote/internal/token"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calnote",
		Usage: "Sync Google Calendar events and turn them into notes.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML config file.",
				EnvVars: []string{"CALNOTE_CONFIG"},
				Value:   config.DefaultPath(),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error.",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			syncCommand(),
			eventsCommand(),
			timelineCommand(),
			noteCommand(),
			exportCommand(),
			mirrorCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// env holds the components shared by every command.
type env struct {
	logger  *slog.Logger
	cfg     *config.Config
	cfgPath string
	kv      kv.Store
	tokens  *token.Store
	flow    *auth.Flow
	client  *google.CalendarClient
}

// withEnv wires every component, including the OAuth flow and calendar
// client, for a command and releases them afterwards.
func withEnv(action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return envAction(true, action)
}

// withLocalEnv wires only config and token storage, for commands that never
// contact Google and so must work without client credentials.
func withLocalEnv(action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return envAction(false, action)
}

func envAction(needsOAuth bool, action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		logger := setupLogger(c.String("log-level"))
		e, err := openEnv(logger, c.String("config"), os.Getenv, needsOAuth)
		if err != nil {
			return err
		}
		defer e.Close()
		return action(c, e)
	}
}

func openEnv(logger *slog.Logger, cfgPath string, getenv func(string) string, needsOAuth bool) (*env, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if needsOAuth {
		if err := cfg.ValidateOAuth(); err != nil {
			return nil, err
		}
	}

	store, err := kv.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	e := &env{
		logger:  logger,
		cfg:     cfg,
		cfgPath: cfgPath,
		kv:      store,
		tokens:  token.NewStore(logger, store),
	}
	if !needsOAuth {
		return e, nil
	}

	oauthConfig, err := auth.NewOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.flow = auth.NewFlow(logger, oauthConfig, e.tokens, auth.Options{})
	e.client = google.NewClient(logger, e.flow, google.Options{})
	return e, nil
}

func (e *env) Close() {
	if err := e.kv.Close(); err != nil {
		e.logger.Warn("Failed to close storage", "error", err)
	}
}

// location is the configured display zone, else the account's zone.
func (e *env) location(ctx context.Context) *time.Location {
	if e.cfg.Timezone != "" {
		if loc, err := e.cfg.Location(); err == nil {
			return loc
		}
	}
	return e.client.GetUserTimeZone(ctx)
}

func (e *env) requireAuth() error {
	if !e.flow.IsAuthenticated() {
		return fmt.Errorf("not authenticated; run 'calnote auth login' first")
	}
	return nil
}

func (e *env) newSyncer(ctx context.Context, out io.Writer) *syncer.Syncer {
	settings := syncer.Settings{
		AutoSync:          e.cfg.Sync.AutoSync,
		Interval:          e.cfg.SyncInterval(),
		SyncAllCalendars:  e.cfg.Sync.SyncAllCalendars,
		SelectedCalendars: e.cfg.Sync.SelectedCalendars,
		Location:          e.location(ctx),
	}
	return syncer.NewSyncer(e.logger, e.client, settings, stderrNotifier{w: out})
}

// syncOnce builds a syncer and fills its cache.
func (e *env) syncOnce(ctx context.Context) (*syncer.Syncer, error) {
	if err := e.requireAuth(); err != nil {
		return nil, err
	}
	s := e.newSyncer(ctx, os.Stderr)
	if err := s.SyncNow(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// stderrNotifier prints user-facing messages.
type stderrNotifier struct {
	w io.Writer
}

func (n stderrNotifier) Notify(message string) {
	fmt.Fprintln(n.w, "calnote:", message)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
