//go:build unix

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/hints"
	"github.com/mjc/reencodarr-sub000/internal/media"
	"github.com/mjc/reencodarr-sub000/internal/mediasvc"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/procrunner"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// stubBinary installs an executable shell script named name on PATH.
func stubBinary(t *testing.T, dir, name, script string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
}

func withStubPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
	return dir
}

type pipelineFixture struct {
	db       *gorm.DB
	videos   repository.VideoRepository
	vmafs    repository.VmafRepository
	failrepo repository.VideoFailureRepository
	machine  *media.StateMachine
	recorder *failures.Recorder
	runner   *procrunner.Runner
	bus      *events.Bus
}

func newFixture(t *testing.T) *pipelineFixture {
	db := setupPipelineDB(t)
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	videos := repository.NewVideoRepository(db)
	failrepo := repository.NewVideoFailureRepository(db)
	return &pipelineFixture{
		db:       db,
		videos:   videos,
		vmafs:    repository.NewVmafRepository(db),
		failrepo: failrepo,
		machine:  media.NewStateMachine(videos, bus, nil),
		recorder: failures.NewRecorder(failrepo, nil),
		runner:   procrunner.NewRunner(nil),
		bus:      bus,
	}
}

func defaultPipelinesConfig() config.PipelinesConfig {
	cfg := config.PipelinesConfig{QueueSize: 10}
	cfg.Analyzer.Rate = config.RateConfig{Messages: 100, Interval: time.Second}
	cfg.Analyzer.MediainfoBatchSize = 8
	cfg.CrfSearch.Rate = config.RateConfig{Messages: 100, Interval: time.Second}
	cfg.Encoder.Rate = config.RateConfig{Messages: 100, Interval: time.Second}
	cfg.Encoder.Timeout = config.Duration(time.Hour)
	return cfg
}

func TestCrfSearcher_SuccessElectsLastSample(t *testing.T) {
	stubDir := withStubPath(t)
	stubBinary(t, stubDir, "ab-av1", `
echo "crf 32 VMAF 91.20 (15%)"
echo "crf 24 VMAF 95.40 predicted video stream size 700 MiB (22%) taking 31 minutes"
exit 0
`)

	f := newFixture(t)
	ctx := context.Background()

	duration := 3600.0
	video := &models.Video{
		Path: "/library/show.mkv", State: models.VideoStateAnalyzed,
		Size: 10 << 30, Bitrate: 8_000_000, Duration: &duration,
		Width: 1920, Height: 1080,
	}
	require.NoError(t, f.videos.Create(ctx, video))

	searcher := NewCrfSearcher(defaultPipelinesConfig(), t.TempDir(),
		f.videos, f.vmafs, f.failrepo, f.machine, f.recorder,
		hints.NewEngine(f.vmafs), f.runner, f.bus, nil)

	searcher.process(ctx, video)

	updated, err := f.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateCrfSearched, updated.State)

	chosen, err := f.vmafs.GetChosen(ctx, video.ID)
	require.NoError(t, err)
	require.NotNil(t, chosen, "last emitted sample is elected")
	assert.Equal(t, 24.0, chosen.CRF)
	require.NotNil(t, updated.ChosenVmafID)
	assert.Equal(t, chosen.ID, *updated.ChosenVmafID)

	all, err := f.vmafs.GetByVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, v := range all {
		require.NotNil(t, v.Savings, "savings derived from input size")
	}
}

func TestCrfSearcher_NoSamplesRetriesOnce(t *testing.T) {
	stubDir := withStubPath(t)
	// A marker file distinguishes the first run from the retry.
	marker := filepath.Join(t.TempDir(), "ran-once")
	stubBinary(t, stubDir, "ab-av1", fmt.Sprintf(`
if [ -f %q ]; then
  echo "crf 28 VMAF 95.10 (20%%)"
  exit 0
fi
touch %q
exit 0
`, marker, marker))

	f := newFixture(t)
	ctx := context.Background()

	duration := 3600.0
	video := &models.Video{
		Path: "/library/retry.mkv", State: models.VideoStateAnalyzed,
		Size: 1 << 30, Bitrate: 8_000_000, Duration: &duration,
		Width: 1920, Height: 1080,
	}
	require.NoError(t, f.videos.Create(ctx, video))

	searcher := NewCrfSearcher(defaultPipelinesConfig(), t.TempDir(),
		f.videos, f.vmafs, f.failrepo, f.machine, f.recorder,
		hints.NewEngine(f.vmafs), f.runner, f.bus, nil)

	searcher.process(ctx, video)

	// First run recorded the optimization failure, retry succeeded.
	updated, err := f.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateCrfSearched, updated.State)

	recorded, err := f.failrepo.GetByVideo(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.CategoryCrfOptimization, recorded[0].Category)
}

func TestEncoder_SuccessPath(t *testing.T) {
	stubDir := withStubPath(t)
	tempDir := t.TempDir()
	libraryDir := t.TempDir()

	original := filepath.Join(libraryDir, "movie.mkv")
	require.NoError(t, os.WriteFile(original, []byte("original"), 0o644))

	f := newFixture(t)
	ctx := context.Background()

	duration := 3600.0
	video := &models.Video{
		Path: original, State: models.VideoStateCrfSearched,
		Size: 1 << 30, Bitrate: 8_000_000, Duration: &duration,
		Width: 1920, Height: 1080,
	}
	require.NoError(t, f.videos.Create(ctx, video))

	vmaf := &models.Vmaf{VideoID: video.ID, CRF: 24, Score: 95.4, Percent: 40}
	require.NoError(t, f.vmafs.Upsert(ctx, vmaf))
	require.NoError(t, f.vmafs.SetChosen(ctx, video.ID, vmaf.ID))

	// The stub announces the encode, reports progress, and writes output.
	out := filepath.Join(tempDir, video.TempOutputName())
	stubBinary(t, stubDir, "ab-av1", fmt.Sprintf(`
echo "[2024-05-01T10:00:00Z INFO] encoding %d.mkv"
echo "45%%, 120 fps, eta 32 minutes"
echo "encoded payload" > %q
exit 0
`, video.ID, out))

	post := NewPostProcessor(
		&mediasvc.NoopClient{Type: models.ServiceTypeSonarr},
		&mediasvc.NoopClient{Type: models.ServiceTypeRadarr},
		f.recorder, f.failrepo, nil,
	)
	encoder := NewEncoder(defaultPipelinesConfig(), tempDir,
		f.videos, f.machine, f.recorder, f.runner, post, f.bus, nil)

	sub := f.bus.Subscribe(events.TopicEncoderCompleted)

	encoder.process(ctx, vmaf)

	updated, err := f.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateEncoded, updated.State)

	content, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, "encoded payload\n", string(content))

	event := <-sub.Events
	payload, ok := event.Payload.(events.EncoderProgress)
	require.True(t, ok)
	assert.Equal(t, filepath.Base(original), payload.Filename)
}

func TestEncoder_FailureClassification(t *testing.T) {
	stubDir := withStubPath(t)
	// Exit like an OOM kill: shells report signal deaths as 128+9.
	stubBinary(t, stubDir, "ab-av1", `
echo "starting"
kill -9 $$
`)

	f := newFixture(t)
	ctx := context.Background()

	duration := 3600.0
	video := &models.Video{
		Path: "/library/oom.mkv", State: models.VideoStateCrfSearched,
		Size: 1 << 30, Bitrate: 8_000_000, Duration: &duration,
		Width: 1920, Height: 1080,
	}
	require.NoError(t, f.videos.Create(ctx, video))

	vmaf := &models.Vmaf{VideoID: video.ID, CRF: 24, Score: 95.4, Percent: 40}
	require.NoError(t, f.vmafs.Upsert(ctx, vmaf))
	require.NoError(t, f.vmafs.SetChosen(ctx, video.ID, vmaf.ID))

	post := NewPostProcessor(
		&mediasvc.NoopClient{Type: models.ServiceTypeSonarr},
		&mediasvc.NoopClient{Type: models.ServiceTypeRadarr},
		f.recorder, f.failrepo, nil,
	)
	encoder := NewEncoder(defaultPipelinesConfig(), t.TempDir(),
		f.videos, f.machine, f.recorder, f.runner, post, f.bus, nil)

	encoder.process(ctx, vmaf)

	updated, err := f.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateFailed, updated.State)

	recorded, err := f.failrepo.GetByVideo(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	failure := recorded[0]
	assert.Equal(t, models.FailureStageEncoding, failure.Stage)
	assert.Equal(t, models.CategoryResourceExhaustion, failure.Category)
	assert.Equal(t, "EXIT_137", failure.Code)
	assert.Contains(t, failure.Message, "Process killed by system")
	assert.Equal(t, "pause", failure.SystemContext["classifier_action"])
}

func TestAnalyzer_SkipsAlreadyAnalyzed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	duration := 3600.0
	video := &models.Video{
		Path: "/library/preanalyzed.mkv", State: models.VideoStateNeedsAnalysis,
		Size: 1 << 30, Bitrate: 8_000_000, Duration: &duration,
		Width: 1920, Height: 1080,
	}
	require.NoError(t, f.videos.Create(ctx, video))

	libraries := repository.NewLibraryRepository(f.db)
	analyzer := NewAnalyzer(defaultPipelinesConfig(), f.videos, libraries,
		f.machine, f.recorder, f.runner, f.bus, nil)

	// No mediainfo stub on PATH is needed: the batch short-circuits.
	analyzer.processBatch(ctx, []*models.Video{video})

	updated, err := f.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateAnalyzed, updated.State)
}

func TestAnalyzer_MediainfoBatch(t *testing.T) {
	stubDir := withStubPath(t)
	f := newFixture(t)
	ctx := context.Background()

	video := &models.Video{Path: "/library/fresh.mkv", State: models.VideoStateNeedsAnalysis}
	require.NoError(t, f.videos.Create(ctx, video))

	libraries := repository.NewLibraryRepository(f.db)
	require.NoError(t, libraries.Create(ctx, &models.Library{Path: "/library"}))

	stubBinary(t, stubDir, "mediainfo", `
cat <<'EOF'
[{"media": {"@ref": "/library/fresh.mkv", "track": [
  {"@type": "General", "FileSize": "1073741824", "Duration": "2400.0", "OverallBitRate": "5000000"},
  {"@type": "Video", "Width": "1920", "Height": "1080", "FrameRate": "23.976", "Format": "HEVC"},
  {"@type": "Audio", "Format": "AC-3", "Channels": "6", "BitRate": "384000"}
]}}]
EOF
exit 0
`)

	analyzer := NewAnalyzer(defaultPipelinesConfig(), f.videos, libraries,
		f.machine, f.recorder, f.runner, f.bus, nil)
	analyzer.processBatch(ctx, []*models.Video{video})

	updated, err := f.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateAnalyzed, updated.State)
	assert.Equal(t, int64(1073741824), updated.Size)
	assert.Equal(t, int64(5000000), updated.Bitrate)
	assert.Equal(t, 1920, updated.Width)
	assert.Equal(t, models.StringList{"AC-3"}, updated.AudioCodecs)
	require.NotNil(t, updated.MaxAudioChannels)
	assert.Equal(t, 6, *updated.MaxAudioChannels)
	require.NotNil(t, updated.LibraryID)
}

func TestAnalyzer_MediainfoFailureRecorded(t *testing.T) {
	stubDir := withStubPath(t)
	f := newFixture(t)
	ctx := context.Background()

	video := &models.Video{Path: "/library/broken.mkv", State: models.VideoStateNeedsAnalysis}
	require.NoError(t, f.videos.Create(ctx, video))

	stubBinary(t, stubDir, "mediainfo", "exit 1\n")

	libraries := repository.NewLibraryRepository(f.db)
	analyzer := NewAnalyzer(defaultPipelinesConfig(), f.videos, libraries,
		f.machine, f.recorder, f.runner, f.bus, nil)
	analyzer.processBatch(ctx, []*models.Video{video})

	updated, err := f.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateFailed, updated.State)

	recorded, err := f.failrepo.GetByVideo(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.CategoryMediainfoParsing, recorded[0].Category)
}
