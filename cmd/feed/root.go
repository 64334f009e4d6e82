package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/git-pkgs/feed"
	"github.com/git-pkgs/feed/internal/config"
	"github.com/git-pkgs/feed/internal/logging"
)

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "feed",
		Short: "A self-hosted NuGet package feed",
		Long: `feed stores .nupkg archives on disk and serves them to NuGet clients
over the v3 protocol.

Configuration is read from the environment (FEED_*, LOG_*, RATE_LIMIT_*).`,
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newVersionsCmd(),
		newDeleteCmd(),
		newReindexCmd(),
	)
	return root
}

// env bundles what every subcommand needs: config, logger and the open feed.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
	feed   *feed.Feed
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	f, err := feed.Open(cfg, logger.Logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, feed: f}, nil
}

func (e *env) close() {
	if err := e.feed.Close(); err != nil {
		e.logger.Warn("closing feed", zap.Error(err))
	}
	_ = e.logger.Sync()
}
