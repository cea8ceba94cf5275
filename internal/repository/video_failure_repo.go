package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// videoFailureRepo implements VideoFailureRepository using GORM.
type videoFailureRepo struct {
	db *gorm.DB
}

// NewVideoFailureRepository creates a new VideoFailureRepository.
func NewVideoFailureRepository(db *gorm.DB) VideoFailureRepository {
	return &videoFailureRepo{db: db}
}

// Record appends the failure and transitions the video to failed in the same
// transaction. If the video row is gone the failure is still recorded.
func (r *videoFailureRepo) Record(ctx context.Context, failure *models.VideoFailure) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(failure).Error; err != nil {
			return fmt.Errorf("creating failure: %w", err)
		}

		result := tx.Model(&models.Video{}).
			Where("id = ?", failure.VideoID).
			Updates(map[string]any{
				"state":            models.VideoStateFailed,
				"state_updated_at": time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failing video: %w", result.Error)
		}
		// Zero rows means the video no longer exists; keep the audit record.
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording failure for video %d: %w", failure.VideoID, err)
	}
	return nil
}

// RecordResolved appends an informational failure that leaves the video's
// state alone: the operation recovered but the incident is worth auditing.
func (r *videoFailureRepo) RecordResolved(ctx context.Context, failure *models.VideoFailure) error {
	failure.Resolved = true
	now := models.Now()
	failure.ResolvedAt = &now
	if err := r.db.WithContext(ctx).Create(failure).Error; err != nil {
		return fmt.Errorf("recording resolved failure for video %d: %w", failure.VideoID, err)
	}
	return nil
}

// GetByVideo returns all failures for a video, newest first.
func (r *videoFailureRepo) GetByVideo(ctx context.Context, videoID int64) ([]*models.VideoFailure, error) {
	var failures []*models.VideoFailure
	err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("created_at DESC").
		Find(&failures).Error
	if err != nil {
		return nil, fmt.Errorf("getting failures for video %d: %w", videoID, err)
	}
	return failures, nil
}

// GetUnresolved returns all unresolved failures, newest first.
func (r *videoFailureRepo) GetUnresolved(ctx context.Context) ([]*models.VideoFailure, error) {
	var failures []*models.VideoFailure
	err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at DESC").
		Find(&failures).Error
	if err != nil {
		return nil, fmt.Errorf("getting unresolved failures: %w", err)
	}
	return failures, nil
}

// Resolve marks a failure resolved.
func (r *videoFailureRepo) Resolve(ctx context.Context, id int64) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.VideoFailure{}).
		Where("id = ?", id).
		Updates(map[string]any{"resolved": true, "resolved_at": now}).Error
	if err != nil {
		return fmt.Errorf("resolving failure %d: %w", id, err)
	}
	return nil
}

// DeleteUnresolvedByVideo removes unresolved failures for a video.
func (r *videoFailureRepo) DeleteUnresolvedByVideo(ctx context.Context, videoID int64) error {
	err := r.db.WithContext(ctx).
		Where("video_id = ? AND resolved = ?", videoID, false).
		Delete(&models.VideoFailure{}).Error
	if err != nil {
		return fmt.Errorf("deleting unresolved failures for video %d: %w", videoID, err)
	}
	return nil
}
