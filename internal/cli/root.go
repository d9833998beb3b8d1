package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/streamcollector/internal/control"
	"github.com/vietddude/streamcollector/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "Streaming collector service",
	Long: `Collector keeps a streaming HTTP connection alive, writes every message to
time-bucketed output files and is started and stopped through flags in a shared
control store.`,
	Run: runCollector,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor until the run flag is cleared",
	Run:   runCollector,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads .env and the config file and sets up logging. It exits
// the process on a configuration error.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Logging.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		slogLevel = slog.LevelError
	}

	if cfg.Logging.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
		return cfg
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

func runCollector(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize Collector
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize collector", "error", err)
		os.Exit(1)
	}

	slog.Info("Collector started",
		"config", cfgPath,
		"collection", cfg.Collector.Type,
		"key", cfg.Collector.FlagsKey,
		"backend", cfg.ControlStore.Backend,
	)

	if err := app.Run(ctx); err != nil {
		slog.Error("Collector failed", "error", err)
		os.Exit(1)
	}

	if ctx.Err() != nil {
		slog.Info("Received signal, collector stopped")
	} else {
		slog.Info("Run flag cleared, collector stopped")
	}
}
