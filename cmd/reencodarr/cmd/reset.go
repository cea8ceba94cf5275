package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mjc/reencodarr-sub000/internal/core"
	"github.com/mjc/reencodarr-sub000/internal/observability"
)

// resetCmd groups the operator bulk maintenance operations.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Operator bulk maintenance operations",
}

// withCore builds a core for a one-shot maintenance command and tears it
// down afterwards. The pipelines are not started.
func withCore(cmd *cobra.Command, fn func(c *core.Core) error) error {
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
	defer func() { _ = c.DB.Close() }()

	return fn(c)
}

var resetFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Revive all failed videos back to needs_analysis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCore(cmd, func(c *core.Core) error {
			count, err := c.Maintenance.ResetAllFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("revived %d videos\n", count)
			return nil
		})
	},
}

var resetInvalidAudioCmd = &cobra.Command{
	Use:   "invalid-audio",
	Short: "Re-queue videos whose encode args carry zero-value audio settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCore(cmd, func(c *core.Core) error {
			count, err := c.Maintenance.ResetInvalidAudio(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("reset %d videos\n", count)
			return nil
		})
	},
}

var resetInvalidAudioMetadataCmd = &cobra.Command{
	Use:   "invalid-audio-metadata",
	Short: "Re-queue videos with unusable audio metadata",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCore(cmd, func(c *core.Core) error {
			count, err := c.Maintenance.ResetInvalidAudioMetadata(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("reset %d videos\n", count)
			return nil
		})
	},
}

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <video-id>",
	Short: "Force one video through analysis again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var videoID int64
		if _, err := fmt.Sscanf(args[0], "%d", &videoID); err != nil {
			return fmt.Errorf("invalid video id %q", args[0])
		}
		return withCore(cmd, func(c *core.Core) error {
			return c.Maintenance.ForceReanalyze(cmd.Context(), videoID)
		})
	},
}

var deleteMissingCmd = &cobra.Command{
	Use:   "delete-missing",
	Short: "Delete videos whose file no longer exists on disk",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCore(cmd, func(c *core.Core) error {
			count, err := c.Maintenance.DeleteMissingPaths(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d videos\n", count)
			return nil
		})
	},
}

func init() {
	resetCmd.AddCommand(resetFailedCmd)
	resetCmd.AddCommand(resetInvalidAudioCmd)
	resetCmd.AddCommand(resetInvalidAudioMetadataCmd)
	resetCmd.AddCommand(reanalyzeCmd)
	resetCmd.AddCommand(deleteMissingCmd)
	rootCmd.AddCommand(resetCmd)
}
