package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/reviewharvest/review-bridge/internal/biz"
	"github.com/reviewharvest/review-bridge/internal/conf"
	"github.com/reviewharvest/review-bridge/internal/data"
)

var (
	// Global flags
	verbose bool
	envFile string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "review-bridge",
	Short: "Collect customer reviews over chat",
	Long: `review-bridge asks customers for feedback over Feishu or WhatsApp,
classifies each reply and follows up: happy customers get the Google review link,
everyone else gets a thank-you.

Configuration comes from the environment (or a .env file).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			return fmt.Errorf("load %s: %w", envFile, err)
		}

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")

	rootCmd.AddCommand(runCmd, serveCmd, customersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates the full configuration
func loadConfig() (*conf.Config, error) {
	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	if cfg.Templates != nil && cfg.Templates.Source != "" {
		logger.Info("message templates loaded", zap.String("path", cfg.Templates.Source))
	}
	return cfg, nil
}

// app holds everything a campaign needs
type app struct {
	cfg   *conf.Config
	repos *data.Repositories
	uc    *biz.Usecases
}

// newApp wires repositories and usecases
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	repos, err := data.NewRepositories(ctx, cfg.ToRepositoryOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create repositories: %w", err)
	}
	logger.Info("repositories ready",
		zap.String("channel", repos.Channel.Name()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("events", repos.Events != nil))

	uc := biz.NewUsecases(repos.Customers, repos.Channel, repos.Classifier, repos.Events, cfg.ToBizOptions(), logger)
	return &app{cfg: cfg, repos: repos, uc: uc}, nil
}

func (a *app) Close() {
	if err := a.repos.Close(); err != nil {
		logger.Warn("close repositories", zap.Error(err))
	}
}
