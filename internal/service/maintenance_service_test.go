package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

func setupService(t *testing.T) (*MaintenanceService, *database.DB) {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	videos := repository.NewVideoRepository(db.DB)
	vmafs := repository.NewVmafRepository(db.DB)
	return NewMaintenanceService(db, videos, vmafs, nil), db
}

func TestResetAllFailed(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	failed := &models.Video{Path: "/library/failed.mkv", State: models.VideoStateFailed}
	require.NoError(t, db.DB.Create(failed).Error)
	require.NoError(t, db.DB.Create(&models.Vmaf{VideoID: failed.ID, CRF: 24, Score: 95, Percent: 40}).Error)
	require.NoError(t, db.DB.Create(&models.VideoFailure{
		VideoID: failed.ID, Stage: models.FailureStageEncoding, Category: models.CategoryUnknown,
	}).Error)
	require.NoError(t, db.DB.Create(&models.VideoFailure{
		VideoID: failed.ID, Stage: models.FailureStageEncoding,
		Category: models.CategorySyncIntegration, Resolved: true,
	}).Error)

	healthy := &models.Video{Path: "/library/ok.mkv", State: models.VideoStateEncoded}
	require.NoError(t, db.DB.Create(healthy).Error)

	count, err := svc.ResetAllFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var revived models.Video
	require.NoError(t, db.DB.First(&revived, failed.ID).Error)
	assert.Equal(t, models.VideoStateNeedsAnalysis, revived.State)
	assert.Nil(t, revived.ChosenVmafID)

	var vmafCount, unresolvedCount, resolvedCount int64
	require.NoError(t, db.DB.Model(&models.Vmaf{}).Where("video_id = ?", failed.ID).Count(&vmafCount).Error)
	require.NoError(t, db.DB.Model(&models.VideoFailure{}).
		Where("video_id = ? AND resolved = ?", failed.ID, false).Count(&unresolvedCount).Error)
	require.NoError(t, db.DB.Model(&models.VideoFailure{}).
		Where("video_id = ? AND resolved = ?", failed.ID, true).Count(&resolvedCount).Error)
	assert.Zero(t, vmafCount)
	assert.Zero(t, unresolvedCount)
	assert.Equal(t, int64(1), resolvedCount, "resolved failures survive as audit trail")

	// Untouched video keeps its state.
	var untouched models.Video
	require.NoError(t, db.DB.First(&untouched, healthy.ID).Error)
	assert.Equal(t, models.VideoStateEncoded, untouched.State)

	// Idempotent.
	count, err = svc.ResetAllFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestResetInvalidAudioMetadata(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	duration := 3600.0
	channels := 6

	invalid := &models.Video{
		Path: "/library/bad-audio.mkv", State: models.VideoStateAnalyzed,
		Bitrate: 5_000_000, Duration: &duration, Width: 1920, Height: 1080,
		// no audio codecs, no channel count, no atmos
	}
	require.NoError(t, db.DB.Create(invalid).Error)
	require.NoError(t, db.DB.Create(&models.Vmaf{VideoID: invalid.ID, CRF: 24, Score: 95, Percent: 40}).Error)

	valid := &models.Video{
		Path: "/library/good-audio.mkv", State: models.VideoStateAnalyzed,
		Bitrate: 5_000_000, Duration: &duration, Width: 1920, Height: 1080,
		AudioCodecs: models.StringList{"E-AC-3"}, MaxAudioChannels: &channels,
	}
	require.NoError(t, db.DB.Create(valid).Error)

	atmos := &models.Video{
		Path: "/library/atmos.mkv", State: models.VideoStateAnalyzed,
		Bitrate: 5_000_000, Duration: &duration, Width: 1920, Height: 1080,
		Atmos: true,
	}
	require.NoError(t, db.DB.Create(atmos).Error)

	count, err := svc.ResetInvalidAudioMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var reset models.Video
	require.NoError(t, db.DB.First(&reset, invalid.ID).Error)
	assert.Equal(t, models.VideoStateNeedsAnalysis, reset.State)
	assert.Zero(t, reset.Bitrate, "media attributes nulled")

	var vmafCount int64
	require.NoError(t, db.DB.Model(&models.Vmaf{}).Where("video_id = ?", invalid.ID).Count(&vmafCount).Error)
	assert.Zero(t, vmafCount)

	var kept models.Video
	require.NoError(t, db.DB.First(&kept, valid.ID).Error)
	assert.Equal(t, models.VideoStateAnalyzed, kept.State)
}

func TestForceReanalyze(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	duration := 3600.0
	video := &models.Video{
		Path: "/library/a.mkv", State: models.VideoStateCrfSearched,
		Bitrate: 5_000_000, Duration: &duration, Width: 1920, Height: 1080,
	}
	require.NoError(t, db.DB.Create(video).Error)
	require.NoError(t, db.DB.Create(&models.Vmaf{VideoID: video.ID, CRF: 24, Score: 95, Percent: 40}).Error)

	require.NoError(t, svc.ForceReanalyze(ctx, video.ID))

	var reset models.Video
	require.NoError(t, db.DB.First(&reset, video.ID).Error)
	assert.Equal(t, models.VideoStateNeedsAnalysis, reset.State)
	assert.Zero(t, reset.Bitrate)

	assert.Error(t, svc.ForceReanalyze(ctx, 99999))
}

func TestDeleteMissingPaths(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.mkv")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	keep := &models.Video{Path: existing, State: models.VideoStateAnalyzed}
	gone := &models.Video{Path: filepath.Join(dir, "missing.mkv"), State: models.VideoStateAnalyzed}
	require.NoError(t, db.DB.Create(keep).Error)
	require.NoError(t, db.DB.Create(gone).Error)

	deleted, err := svc.DeleteMissingPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	var count int64
	require.NoError(t, db.DB.Model(&models.Video{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var remaining models.Video
	require.NoError(t, db.DB.First(&remaining).Error)
	assert.Equal(t, existing, remaining.Path)
}

func TestHasZeroAudioArgs(t *testing.T) {
	assert.True(t, hasZeroAudioArgs([]string{"encode", "--enc", "b:a=0k"}))
	assert.True(t, hasZeroAudioArgs([]string{"encode", "--enc", "ac=0"}))
	assert.False(t, hasZeroAudioArgs([]string{"encode", "--enc", "b:a=128k"}))
	assert.False(t, hasZeroAudioArgs([]string{"encode", "--acodec", "copy"}))
}
