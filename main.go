// Package main is the entry point for the ScanMed conversation service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/molarewaju77/ScanMed-sub001/internal/chat"
	"github.com/molarewaju77/ScanMed-sub001/internal/config"
	"github.com/molarewaju77/ScanMed-sub001/internal/metrics"
	"github.com/molarewaju77/ScanMed-sub001/internal/provider"
	"github.com/molarewaju77/ScanMed-sub001/internal/retention"
	"github.com/molarewaju77/ScanMed-sub001/internal/server"
	"github.com/molarewaju77/ScanMed-sub001/internal/slack"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

var (
	v = config.NewViper()

	rootCmd = &cobra.Command{
		Use:          "scanmed",
		Short:        "Conversation service for the ScanMed health assistant.",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// A missing .env file is fine; the environment may be set elsewhere.
			_ = godotenv.Load()
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the retention sweeper and the optional Slack bot",
		RunE: func(*cobra.Command, []string) error {
			return runServe()
		},
	}

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove conversations deleted longer than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPurge(cmd)
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user id (requires SCANMED_AUTH_SECRET)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(cmd)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("storage-driver", storage.DriverSQLite, "storage driver (memory, file, bolt, sqlite, postgres)")
	rootCmd.PersistentFlags().String("data-dir", "./data", "data directory for file, bolt and sqlite storage")
	rootCmd.PersistentFlags().String("dsn", "", "database source name for sqlite or postgres")
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("provider", provider.NameOpenAI, "LLM provider (openai, anthropic, gemini, deepseek, openrouter, ollama)")
	purgeCmd.Flags().Int("retention-days", 30, "days a deleted conversation stays restorable")
	tokenCmd.Flags().String("user", "", "user id to put in the token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	bindFlag("LOG_LEVEL", rootCmd.PersistentFlags().Lookup("log-level"))
	bindFlag("STORAGE_DRIVER", rootCmd.PersistentFlags().Lookup("storage-driver"))
	bindFlag("DATA_DIR", rootCmd.PersistentFlags().Lookup("data-dir"))
	bindFlag("DSN", rootCmd.PersistentFlags().Lookup("dsn"))
	bindFlag("HTTP_ADDR", serveCmd.Flags().Lookup("addr"))
	bindFlag("PROVIDER", serveCmd.Flags().Lookup("provider"))
	bindFlag("RETENTION_DAYS", purgeCmd.Flags().Lookup("retention-days"))

	rootCmd.AddCommand(serveCmd, purgeCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("Starting ScanMed conversation service...")

	ctx, cancel := signalContext(logger)
	defer cancel()

	adapter, err := provider.New(ctx, cfg.ProviderConfig())
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	store, err := storage.Open(cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	logger.Info("Configuration loaded",
		"provider", adapter.Name(),
		"storage_driver", cfg.StorageDriver,
		"retention_days", cfg.RetentionDays,
		"slack", cfg.SlackEnabled(),
	)

	m := metrics.New()
	orchestrator := chat.New(adapter, store, logger,
		chat.WithMetrics(m),
		chat.WithScanMaxDimension(cfg.ScanMaxDimension),
	)
	srv := server.New(server.Config{
		Addr:       cfg.HTTPAddr,
		AuthSecret: cfg.AuthSecret,
		RateLimit:  cfg.RateLimit,
	}, orchestrator, m, logger)
	sweeper := retention.NewSweeper(store, cfg.Retention(), cfg.PurgeInterval, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if cfg.SlackEnabled() {
		handler := slack.NewHandler(orchestrator, cfg.DefaultLanguage, cfg.Retention(), logger)
		bot, err := slack.NewBot(slack.Config{
			BotToken: cfg.SlackBotToken,
			AppToken: cfg.SlackAppToken,
			Debug:    cfg.LogLevel == "debug",
		}, handler.HandleMessage, logger)
		if err != nil {
			return fmt.Errorf("failed to create Slack bot: %w", err)
		}
		g.Go(func() error {
			if err := bot.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("slack bot: %w", err)
			}
			return nil
		})
	}

	logger.Info("ScanMed is running. Press Ctrl+C to stop.")
	if err := g.Wait(); err != nil {
		logger.Error("Service error", "error", err)
		return err
	}

	logger.Info("ScanMed stopped.")
	return nil
}

func runPurge(cmd *cobra.Command) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, err := storage.Open(cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	sweeper := retention.NewSweeper(store, cfg.Retention(), cfg.PurgeInterval, nil, logger)
	removed, err := sweeper.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "purged %d conversation(s)\n", removed)
	return nil
}

func runToken(cmd *cobra.Command) error {
	secret := v.GetString("AUTH_SECRET")
	if secret == "" {
		return fmt.Errorf("SCANMED_AUTH_SECRET is not set")
	}
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return fmt.Errorf("--user is required")
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := server.IssueToken(secret, user, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
