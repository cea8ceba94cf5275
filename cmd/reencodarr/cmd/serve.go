package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mjc/reencodarr-sub000/internal/core"
	"github.com/mjc/reencodarr-sub000/internal/observability"
)

// serveCmd runs the daemon: the three pipelines plus the maintenance
// scheduler, until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the re-encoding pipelines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := observability.NewLogger(cfg.Logging)
		observability.SetDefault(logger)

		c, err := core.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("building core: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("starting core: %w", err)
		}

		<-ctx.Done()
		logger.Info("shutdown signal received")
		c.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
