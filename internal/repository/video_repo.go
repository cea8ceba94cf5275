package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepo{db: db}
}

// Create creates a new video.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if video.StateUpdatedAt.IsZero() {
		video.StateUpdatedAt = models.Now()
	}
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id int64) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// GetByPath retrieves a video by its unique path.
func (r *videoRepo) GetByPath(ctx context.Context, path string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by path: %w", err)
	}
	return &video, nil
}

// Update updates an existing video.
func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

// Delete deletes a video along with its Vmafs and failure records.
func (r *videoRepo) Delete(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&models.Vmaf{}).Error; err != nil {
			return fmt.Errorf("deleting vmafs: %w", err)
		}
		if err := tx.Where("video_id = ?", id).Delete(&models.VideoFailure{}).Error; err != nil {
			return fmt.Errorf("deleting failures: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Video{}).Error; err != nil {
			return fmt.Errorf("deleting video: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting video %d: %w", id, err)
	}
	return nil
}

// UpsertByPath creates the video or updates the existing row with the same path.
func (r *videoRepo) UpsertByPath(ctx context.Context, video *models.Video) (*models.Video, error) {
	existing, err := r.GetByPath(ctx, video.Path)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := r.Create(ctx, video); err != nil {
			return nil, err
		}
		return video, nil
	}

	video.ID = existing.ID
	video.CreatedAt = existing.CreatedAt
	if err := r.Update(ctx, video); err != nil {
		return nil, err
	}
	return video, nil
}

// NextForAnalysis returns videos in needs_analysis, oldest updated first.
func (r *videoRepo) NextForAnalysis(ctx context.Context, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	err := r.db.WithContext(ctx).
		Where("state = ?", models.VideoStateNeedsAnalysis).
		Order("updated_at ASC").
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("querying analysis queue: %w", err)
	}
	return videos, nil
}

// NextForCrfSearch returns videos in analyzed, oldest updated first.
func (r *videoRepo) NextForCrfSearch(ctx context.Context, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	err := r.db.WithContext(ctx).
		Where("state = ?", models.VideoStateAnalyzed).
		Order("updated_at ASC").
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("querying crf-search queue: %w", err)
	}
	return videos, nil
}

// NextForEncoding returns chosen Vmafs whose video is crf_searched, best
// savings first. NULL savings sort last; ties break on predicted time.
func (r *videoRepo) NextForEncoding(ctx context.Context, limit int) ([]*models.Vmaf, error) {
	var vmafs []*models.Vmaf
	err := r.db.WithContext(ctx).
		Joins("JOIN videos ON videos.id = vmafs.video_id").
		Where("vmafs.chosen = ? AND videos.state = ?", true, models.VideoStateCrfSearched).
		Order("vmafs.savings IS NULL ASC, vmafs.savings DESC, vmafs.time ASC").
		Limit(limit).
		Find(&vmafs).Error
	if err != nil {
		return nil, fmt.Errorf("querying encoding queue: %w", err)
	}
	return vmafs, nil
}

// SetState persists a state change for the video.
func (r *videoRepo) SetState(ctx context.Context, id int64, state models.VideoState) error {
	result := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":            state,
			"state_updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("setting video %d state: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("setting video %d state: video not found", id)
	}
	return nil
}

// PageIDs returns up to limit (id, path) pairs with id > afterID, ordered by id.
func (r *videoRepo) PageIDs(ctx context.Context, afterID int64, limit int) ([]VideoPathRow, error) {
	var rows []VideoPathRow
	err := r.db.WithContext(ctx).Model(&models.Video{}).
		Select("id", "path").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("paging video ids: %w", err)
	}
	return rows, nil
}

// CountByState returns the number of videos per state.
func (r *videoRepo) CountByState(ctx context.Context) (map[models.VideoState]int64, error) {
	type row struct {
		State models.VideoState
		Count int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Video{}).
		Select("state, COUNT(*) as count").
		Group("state").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting videos by state: %w", err)
	}

	counts := make(map[models.VideoState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}
