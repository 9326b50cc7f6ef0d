// chatgram relays Telegram chats to configurable LLM personas and keeps a
// decaying per-conversation history in SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/stupiduntilnot/chatgram/internal/admin"
	"github.com/stupiduntilnot/chatgram/internal/bot"
	cmdpkg "github.com/stupiduntilnot/chatgram/internal/commander"
	"github.com/stupiduntilnot/chatgram/internal/config"
	"github.com/stupiduntilnot/chatgram/internal/control"
	"github.com/stupiduntilnot/chatgram/internal/db"
	"github.com/stupiduntilnot/chatgram/internal/dummy"
	modelpkg "github.com/stupiduntilnot/chatgram/internal/model"
	"github.com/stupiduntilnot/chatgram/internal/openai"
	"github.com/stupiduntilnot/chatgram/internal/persona"
	"github.com/stupiduntilnot/chatgram/internal/session"
	"github.com/stupiduntilnot/chatgram/internal/store"
	"github.com/stupiduntilnot/chatgram/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "chatgram: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	envFile  string
	personas string
	dbPath   string
}

func parseFlags(args []string, stderr io.Writer) (flags, *pflag.FlagSet, error) {
	var f flags
	fs := pflag.NewFlagSet("chatgram", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&f.personas, "personas", "", "persona YAML file (overrides CHATGRAM_PERSONAS_FILE)")
	fs.StringVar(&f.dbPath, "db", "", "SQLite database path (overrides CHATGRAM_DB_PATH)")
	err := fs.Parse(args)
	return f, fs, err
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if err := config.LoadEnvFile(f.envFile, fs.Changed("env-file")); err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if f.personas != "" {
		cfg.PersonasFile = f.personas
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	personaCfgs, err := config.LoadPersonas(cfg.PersonasFile)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	runtimeOpts := []persona.RuntimeOption{
		persona.WithProviderTimeout(time.Duration(cfg.ProviderTimeoutSeconds) * time.Second),
		persona.WithLogger(logger),
	}
	processID, err := st.LogEvent(ctx, nil, db.EventProcessStarted, map[string]any{
		"pid":      os.Getpid(),
		"provider": cfg.ModelProvider,
		"source":   cfg.Commander,
		"personas": len(personaCfgs),
	})
	if err != nil {
		logger.Warn("failed to log process.started", "error", err)
	} else {
		runtimeOpts = append(runtimeOpts, persona.WithParentEvent(processID))
	}

	commander, err := newCommander(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	provider, err := newModelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}

	manager, err := persona.NewManager(personaCfgs, st, provider, runtimeOpts...)
	if err != nil {
		return err
	}
	registry := session.NewRegistry(st, logger)

	if cfg.AdminAddr != "" {
		srv := admin.New(st, manager, logger)
		go func() {
			if err := srv.Start(cfg.AdminAddr); err != nil {
				logger.Error("admin server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("admin server shutdown failed", "error", err)
			}
		}()
	}

	b := bot.New(commander, manager, registry, st, logger, bot.Options{
		PollTimeout:        cfg.Timeout,
		Sleep:              time.Duration(cfg.SleepSeconds) * time.Second,
		MaxConcurrentChats: cfg.MaxConcurrentChats,
		Circuit:            control.NewCircuitBreaker(5, 30*time.Second),
	})
	logger.Info("chatgram running",
		"personas", len(personaCfgs),
		"provider", cfg.ModelProvider,
		"source", cfg.Commander,
		"db", cfg.DBPath,
	)
	err = b.Run(ctx)
	logger.Info("chatgram stopped")
	return err
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newCommander(cfg config.Config, logger *slog.Logger) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.Timeout+20)*time.Second, logger), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(cfg config.Config) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case "openai":
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, time.Duration(cfg.ProviderTimeoutSeconds)*time.Second), nil
	case "dummy":
		return dummy.NewProvider(cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
