// Package service hosts operator-facing orchestration over the entity
// store: bulk maintenance resets and the missing-path sweep.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/rules"
)

// Missing-path sweep tuning.
const (
	missingPathsPageSize    = 500
	missingPathsConcurrency = 20
	existsCheckTimeout      = 10 * time.Second
)

// Dispatcher matches the pipeline producers' availability signal.
type Dispatcher interface {
	DispatchAvailable()
}

// MaintenanceService implements the operator bulk operations. Every reset
// is transactional; all are idempotent.
type MaintenanceService struct {
	db       *database.DB
	videos   repository.VideoRepository
	vmafs    repository.VmafRepository
	analyzer Dispatcher
	logger   *slog.Logger
}

// NewMaintenanceService creates the maintenance service.
func NewMaintenanceService(
	db *database.DB,
	videos repository.VideoRepository,
	vmafs repository.VmafRepository,
	logger *slog.Logger,
) *MaintenanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceService{
		db:     db,
		videos: videos,
		vmafs:  vmafs,
		logger: logger.With("component", "maintenance"),
	}
}

// SetAnalyzerDispatcher wires the analyzer so resets can nudge it.
func (s *MaintenanceService) SetAnalyzerDispatcher(d Dispatcher) {
	s.analyzer = d
}

// ResetAllFailed revives every failed video: state back to needs_analysis,
// its samples deleted, its unresolved failures cleared.
func (s *MaintenanceService) ResetAllFailed(ctx context.Context) (int64, error) {
	var revived int64
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&models.Video{}).
			Where("state = ?", models.VideoStateFailed).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("collecting failed videos: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("video_id IN ?", ids).Delete(&models.Vmaf{}).Error; err != nil {
			return fmt.Errorf("deleting vmafs: %w", err)
		}
		if err := tx.Where("video_id IN ? AND resolved = ?", ids, false).
			Delete(&models.VideoFailure{}).Error; err != nil {
			return fmt.Errorf("deleting unresolved failures: %w", err)
		}

		result := tx.Model(&models.Video{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"state":            models.VideoStateNeedsAnalysis,
				"state_updated_at": time.Now(),
				"chosen_vmaf_id":   nil,
			})
		if result.Error != nil {
			return fmt.Errorf("reviving videos: %w", result.Error)
		}
		revived = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("resetting failed videos: %w", err)
	}

	s.logger.Info("failed videos reset", slog.Int64("count", revived))
	if revived > 0 && s.analyzer != nil {
		s.analyzer.DispatchAvailable()
	}
	return revived, nil
}

// ResetInvalidAudio re-queues videos whose encode arguments would carry a
// zero-value audio setting, a sign their audio metadata is garbage.
func (s *MaintenanceService) ResetInvalidAudio(ctx context.Context) (int, error) {
	videos, err := s.activeVideos(ctx)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, video := range videos {
		overrides := s.chosenParams(ctx, video)
		argv := rules.BuildArgs(video, rules.ContextEncode, overrides, nil)
		if !hasZeroAudioArgs(argv) {
			continue
		}
		if err := s.resetVideo(ctx, video); err != nil {
			return reset, err
		}
		reset++
	}

	s.logger.Info("invalid-audio videos reset", slog.Int("count", reset))
	if reset > 0 && s.analyzer != nil {
		s.analyzer.DispatchAvailable()
	}
	return reset, nil
}

// ResetInvalidAudioMetadata re-queues videos whose audio attributes are
// unusable: no codecs or no channel count, without Atmos to excuse it.
func (s *MaintenanceService) ResetInvalidAudioMetadata(ctx context.Context) (int, error) {
	videos, err := s.activeVideos(ctx)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, video := range videos {
		if video.HasValidAudioMetadata() {
			continue
		}
		if !video.Analyzed() {
			continue // nothing to invalidate yet
		}
		if err := s.resetVideo(ctx, video); err != nil {
			return reset, err
		}
		reset++
	}

	s.logger.Info("invalid-audio-metadata videos reset", slog.Int("count", reset))
	if reset > 0 && s.analyzer != nil {
		s.analyzer.DispatchAvailable()
	}
	return reset, nil
}

// ForceReanalyze wipes one video's samples and media attributes and
// dispatches the analyzer.
func (s *MaintenanceService) ForceReanalyze(ctx context.Context, videoID int64) error {
	video, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("video %d not found", videoID)
	}

	if err := s.resetVideo(ctx, video); err != nil {
		return err
	}

	s.logger.Info("video queued for re-analysis", slog.Int64("video_id", videoID))
	if s.analyzer != nil {
		s.analyzer.DispatchAvailable()
	}
	return nil
}

// DeleteMissingPaths sweeps all videos in id-ordered pages, existence-checks
// their paths concurrently, and deletes rows whose file is gone.
func (s *MaintenanceService) DeleteMissingPaths(ctx context.Context) (int, error) {
	deleted := 0
	afterID := int64(0)

	for {
		page, err := s.videos.PageIDs(ctx, afterID, missingPathsPageSize)
		if err != nil {
			return deleted, err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		missing, err := s.findMissing(ctx, page)
		if err != nil {
			return deleted, err
		}

		for _, id := range missing {
			if err := s.videos.Delete(ctx, id); err != nil {
				return deleted, err
			}
			deleted++
		}
	}

	s.logger.Info("missing-path sweep complete", slog.Int("deleted", deleted))
	return deleted, nil
}

// findMissing existence-checks one page of paths with bounded concurrency
// and a per-check timeout.
func (s *MaintenanceService) findMissing(ctx context.Context, page []repository.VideoPathRow) ([]int64, error) {
	results := make([]bool, len(page))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(missingPathsConcurrency)

	for i, row := range page {
		g.Go(func() error {
			exists, err := pathExists(gctx, row.Path)
			if err != nil {
				// A timed-out check is inconclusive; keep the row.
				s.logger.Warn("path check inconclusive",
					slog.String("path", row.Path),
					slog.String("error", err.Error()),
				)
				exists = true
			}
			results[i] = exists
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var missing []int64
	for i, row := range page {
		if !results[i] {
			missing = append(missing, row.ID)
		}
	}
	return missing, nil
}

// pathExists stats the path under a timeout. Network filesystems can hang
// indefinitely on stat; the timeout keeps the sweep moving.
func pathExists(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, existsCheckTimeout)
	defer cancel()

	type statResult struct {
		exists bool
		err    error
	}
	ch := make(chan statResult, 1)
	go func() {
		_, err := os.Stat(path)
		if err == nil {
			ch <- statResult{exists: true}
			return
		}
		if os.IsNotExist(err) {
			ch <- statResult{exists: false}
			return
		}
		ch <- statResult{err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case result := <-ch:
		return result.exists, result.err
	}
}

// activeVideos returns every video still in the working set.
func (s *MaintenanceService) activeVideos(ctx context.Context) ([]*models.Video, error) {
	var videos []*models.Video
	err := s.db.DB.WithContext(ctx).
		Where("state NOT IN ?", []models.VideoState{models.VideoStateEncoded, models.VideoStateFailed}).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("loading active videos: %w", err)
	}
	return videos, nil
}

// chosenParams returns the video's chosen sample params, if any.
func (s *MaintenanceService) chosenParams(ctx context.Context, video *models.Video) []string {
	chosen, err := s.vmafs.GetChosen(ctx, video.ID)
	if err != nil || chosen == nil {
		return nil
	}
	return chosen.Params
}

// resetVideo wipes samples and media attributes and returns the video to
// needs_analysis, all in one transaction.
func (s *MaintenanceService) resetVideo(ctx context.Context, video *models.Video) error {
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", video.ID).Delete(&models.Vmaf{}).Error; err != nil {
			return fmt.Errorf("deleting vmafs: %w", err)
		}

		video.ResetMediaAttributes()
		video.State = models.VideoStateNeedsAnalysis
		video.StateUpdatedAt = models.Now()
		if err := tx.Save(video).Error; err != nil {
			return fmt.Errorf("saving reset video: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resetting video %d: %w", video.ID, err)
	}
	return nil
}

// hasZeroAudioArgs reports whether an encode argv carries a zero-value
// audio setting.
func hasZeroAudioArgs(argv []string) bool {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] != "--enc" {
			continue
		}
		if argv[i+1] == "b:a=0k" || argv[i+1] == "ac=0" {
			return true
		}
	}
	return false
}
