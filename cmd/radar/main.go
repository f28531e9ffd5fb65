package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"radar-engine/internal/config"
	"radar-engine/internal/logging"
	"radar-engine/internal/secrets"
)

var (
	flagConfig   string
	flagDataDir  string
	flagLogLevel string

	cfg     config.Config
	cfgPath string
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "radar",
	Short: "Forum lead radar: scan, classify, draft, and post with human approval",
	Long: `radar watches subreddits for posts matching your keywords, classifies them,
drafts replies for promising ones and asks a human before anything is posted.

Examples:
  radar scan                 # one scan cycle
  radar run                  # scan on the configured cron schedule
  radar listen               # handle Telegram buttons and email replies
  radar serve --scan --listen  # everything in one process, plus the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <data-dir>/config.yml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default $RADAR_DATA_DIR or .)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug | info | warn | error")
}

// setup loads .env, the YAML config, env and keychain overlays, then builds
// the logger. Validation errors are fatal here, before any work starts.
func setup() error {
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = os.Getenv("RADAR_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = "."
	}
	if err := config.LoadEnv(".env", filepath.Join(dataDir, ".env")); err != nil {
		return err
	}
	// .env may have set it
	if v := os.Getenv("RADAR_DATA_DIR"); flagDataDir == "" && v != "" {
		dataDir = v
	}

	cfgPath = flagConfig
	if cfgPath == "" {
		p, err := config.EnsureUserConfig(dataDir, "")
		if err != nil {
			return fmt.Errorf("config bootstrap failed: %w", err)
		}
		cfgPath = p
	}
	loaded, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", cfgPath, err)
	}
	config.OverlayEnv(&loaded)
	if loaded.App.DataDir == "" || flagDataDir != "" {
		loaded.App.DataDir = dataDir
	}
	if flagLogLevel != "" {
		loaded.App.LogLevel = flagLogLevel
	}
	secrets.Resolve(&loaded)

	normalized, vr := config.NormalizeAndValidate(loaded)
	logger, err = logging.New(logging.Config{Level: normalized.App.LogLevel, Format: normalized.App.LogFormat})
	if err != nil {
		return err
	}
	for _, w := range vr.Warnings {
		logger.Warn("config", zap.String("warning", w))
	}
	if err := vr.Err(); err != nil {
		return err
	}
	cfg = normalized
	return os.MkdirAll(cfg.App.DataDir, 0o755)
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
