package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/git-pkgs/feed/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the feed over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			cfg := api.Config{
				Addr:           e.cfg.Server.Addr(),
				MaxUploadBytes: e.cfg.Server.MaxUploadBytes,
				Development:    e.cfg.Logging.Development,
			}
			if e.cfg.RateLimit.Enabled {
				rl := api.DefaultRateLimitConfig()
				rl.RequestsPerSecond = e.cfg.RateLimit.RequestsPerSecond
				rl.Burst = e.cfg.RateLimit.Burst
				cfg.RateLimit = &rl
			}
			if e.cfg.Auth.APIKey == "" {
				e.logger.Warn("FEED_API_KEY is not set, publishing and deleting are disabled")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.NewServer(cfg, e.feed.Service, e.feed.Metrics, e.logger.Logger)
			e.logger.Info("serving feed",
				zap.String("addr", cfg.Addr),
				zap.String("base_url", e.feed.URLs.Base()),
				zap.String("packages", e.cfg.Storage.PackagesPath),
				zap.String("downloads", e.cfg.Downloads.Backend))
			return srv.Run(ctx)
		},
	}
}
