package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/mediasvc"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

func setupPipelineDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.Vmaf{}, &models.VideoFailure{}, &models.Library{}))
	return db
}

func TestIntermediatePath(t *testing.T) {
	assert.Equal(t, "/library/show/ep01.reencoded.mkv", IntermediatePath("/library/show/ep01.mkv"))
	assert.Equal(t, "/movies/A Movie (2001).reencoded.mp4", IntermediatePath("/movies/A Movie (2001).mp4"))
}

func TestPostProcessor_Run(t *testing.T) {
	db := setupPipelineDB(t)
	failrepo := repository.NewVideoFailureRepository(db)
	recorder := failures.NewRecorder(failrepo, nil)
	post := NewPostProcessor(
		&mediasvc.NoopClient{Type: models.ServiceTypeSonarr},
		&mediasvc.NoopClient{Type: models.ServiceTypeRadarr},
		recorder, failrepo, nil,
	)
	ctx := context.Background()

	libraryDir := t.TempDir()
	tempDir := t.TempDir()

	original := filepath.Join(libraryDir, "show.mkv")
	require.NoError(t, os.WriteFile(original, []byte("original content"), 0o644))
	encoded := filepath.Join(tempDir, "1.mkv")
	require.NoError(t, os.WriteFile(encoded, []byte("encoded content"), 0o644))

	video := &models.Video{
		BaseModel:   models.BaseModel{ID: 1},
		Path:        original,
		State:       models.VideoStateEncoding,
		ServiceType: models.ServiceTypeSonarr,
		ServiceID:   "11",
	}
	require.NoError(t, db.Create(video).Error)

	require.NoError(t, post.Run(ctx, video, encoded))

	// The original now holds the encoded content; temp and intermediate
	// files are gone.
	content, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, "encoded content", string(content))
	assert.NoFileExists(t, encoded)
	assert.NoFileExists(t, IntermediatePath(original))
}

func TestPostProcessor_MissingTempOutput(t *testing.T) {
	db := setupPipelineDB(t)
	failrepo := repository.NewVideoFailureRepository(db)
	recorder := failures.NewRecorder(failrepo, nil)
	post := NewPostProcessor(
		&mediasvc.NoopClient{Type: models.ServiceTypeSonarr},
		&mediasvc.NoopClient{Type: models.ServiceTypeRadarr},
		recorder, failrepo, nil,
	)
	ctx := context.Background()

	video := &models.Video{
		BaseModel: models.BaseModel{ID: 2},
		Path:      filepath.Join(t.TempDir(), "show.mkv"),
		State:     models.VideoStateEncoding,
	}
	require.NoError(t, db.Create(video).Error)

	err := post.Run(ctx, video, filepath.Join(t.TempDir(), "does-not-exist.mkv"))
	require.Error(t, err)

	// The failure was recorded and the video failed.
	recorded, err := failrepo.GetByVideo(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.FailureStagePostProcess, recorded[0].Stage)
	assert.Equal(t, models.CategoryFileOperations, recorded[0].Category)

	var persisted models.Video
	require.NoError(t, db.First(&persisted, video.ID).Error)
	assert.Equal(t, models.VideoStateFailed, persisted.State)
}

func TestCopyFileAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, copyFile(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestSampleParams(t *testing.T) {
	argv := []string{
		"crf-search",
		"-i", "/a.mkv",
		"--min-vmaf", "95",
		"--temp-dir", "/tmp/ab-av1",
		"--min-crf", "20",
		"--max-crf", "28",
		"--pix-format", "yuv420p10le",
		"--svt", "tune=0",
	}
	params := sampleParams(argv)
	assert.Equal(t, []string{"--pix-format", "yuv420p10le", "--svt", "tune=0"}, params)
}
