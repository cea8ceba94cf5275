package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// vmafRepo implements VmafRepository using GORM.
type vmafRepo struct {
	db *gorm.DB
}

// NewVmafRepository creates a new VmafRepository.
func NewVmafRepository(db *gorm.DB) VmafRepository {
	return &vmafRepo{db: db}
}

// Upsert inserts the sample or updates the existing (video_id, crf) row.
func (r *vmafRepo) Upsert(ctx context.Context, vmaf *models.Vmaf) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "video_id"}, {Name: "crf"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"score", "percent", "size", "time", "savings", "params", "updated_at",
			}),
		}).
		Create(vmaf).Error
	if err != nil {
		return fmt.Errorf("upserting vmaf: %w", err)
	}

	// The conflict path leaves vmaf.ID at zero; re-read it so callers can
	// elect the sample later.
	if vmaf.ID == 0 {
		var existing models.Vmaf
		if err := r.db.WithContext(ctx).
			Where("video_id = ? AND crf = ?", vmaf.VideoID, vmaf.CRF).
			First(&existing).Error; err != nil {
			return fmt.Errorf("reloading upserted vmaf: %w", err)
		}
		vmaf.ID = existing.ID
	}
	return nil
}

// GetByVideo returns all samples for a video ordered by CRF.
func (r *vmafRepo) GetByVideo(ctx context.Context, videoID int64) ([]*models.Vmaf, error) {
	var vmafs []*models.Vmaf
	err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("crf ASC").
		Find(&vmafs).Error
	if err != nil {
		return nil, fmt.Errorf("getting vmafs for video %d: %w", videoID, err)
	}
	return vmafs, nil
}

// GetChosen returns the chosen sample for a video, nil if none.
func (r *vmafRepo) GetChosen(ctx context.Context, videoID int64) (*models.Vmaf, error) {
	var vmaf models.Vmaf
	err := r.db.WithContext(ctx).
		Where("video_id = ? AND chosen = ?", videoID, true).
		First(&vmaf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting chosen vmaf for video %d: %w", videoID, err)
	}
	return &vmaf, nil
}

// SetChosen elects the sample: clears any prior chosen row, marks this one,
// and points the video's chosen_vmaf_id at it, all in one transaction.
func (r *vmafRepo) SetChosen(ctx context.Context, videoID, vmafID int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Vmaf{}).
			Where("video_id = ? AND chosen = ?", videoID, true).
			Update("chosen", false).Error; err != nil {
			return fmt.Errorf("clearing prior chosen: %w", err)
		}

		result := tx.Model(&models.Vmaf{}).
			Where("id = ? AND video_id = ?", vmafID, videoID).
			Update("chosen", true)
		if result.Error != nil {
			return fmt.Errorf("marking chosen: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("vmaf %d does not belong to video %d", vmafID, videoID)
		}

		if err := tx.Model(&models.Video{}).
			Where("id = ?", videoID).
			Update("chosen_vmaf_id", vmafID).Error; err != nil {
			return fmt.Errorf("pointing video at chosen vmaf: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("electing vmaf %d for video %d: %w", vmafID, videoID, err)
	}
	return nil
}

// DeleteByVideo removes all samples for a video.
func (r *vmafRepo) DeleteByVideo(ctx context.Context, videoID int64) error {
	if err := r.db.WithContext(ctx).Where("video_id = ?", videoID).Delete(&models.Vmaf{}).Error; err != nil {
		return fmt.Errorf("deleting vmafs for video %d: %w", videoID, err)
	}
	return nil
}

// SiblingCandidates returns videos under the same directory (its
// subdirectories included) with identical width and height and a chosen
// sample, excluding the given video.
func (r *vmafRepo) SiblingCandidates(ctx context.Context, video *models.Video) ([]SiblingSample, error) {
	dir := filepath.Dir(video.Path)

	var rows []SiblingSample
	err := r.db.WithContext(ctx).Model(&models.Vmaf{}).
		Select("vmafs.video_id AS video_id, videos.path AS path, videos.hdr AS hdr, vmafs.crf AS crf, vmafs.score AS score").
		Joins("JOIN videos ON videos.id = vmafs.video_id").
		Where("vmafs.chosen = ?", true).
		Where("videos.id <> ?", video.ID).
		Where("videos.path LIKE ?", dir+string(filepath.Separator)+"%").
		Where("videos.width = ? AND videos.height = ?", video.Width, video.Height).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying sibling samples: %w", err)
	}
	return rows, nil
}
