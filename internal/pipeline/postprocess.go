package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/mediasvc"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// intermediateSuffix tags the re-encoded file placed next to the original
// before it replaces it.
const intermediateSuffix = ".reencoded"

// PostProcessor performs the encoder's success path: move the temp output
// next to the original, let the media service refresh, then replace the
// original atomically.
type PostProcessor struct {
	sonarr   mediasvc.Client
	radarr   mediasvc.Client
	recorder *failures.Recorder
	failrepo repository.VideoFailureRepository
	logger   *slog.Logger
}

// NewPostProcessor creates the post-processing step.
func NewPostProcessor(
	sonarr, radarr mediasvc.Client,
	recorder *failures.Recorder,
	failrepo repository.VideoFailureRepository,
	logger *slog.Logger,
) *PostProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostProcessor{
		sonarr:   sonarr,
		radarr:   radarr,
		recorder: recorder,
		failrepo: failrepo,
		logger:   logger.With("component", "post_processor"),
	}
}

// IntermediatePath computes <dir>/<base_sans_ext>.reencoded<ext> for the
// video's path.
func IntermediatePath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	base := strings.TrimSuffix(filepath.Base(videoPath), ext)
	return filepath.Join(filepath.Dir(videoPath), base+intermediateSuffix+ext)
}

// Run performs the replacement. A failed service refresh is recorded but
// does not roll back the encode; a failed file operation aborts.
func (p *PostProcessor) Run(ctx context.Context, video *models.Video, tempOutput string) error {
	intermediate := IntermediatePath(video.Path)

	p.logger.Info("moving encode output",
		slog.Int64("video_id", video.ID),
		slog.String("from", tempOutput),
		slog.String("to", intermediate),
	)
	if err := p.moveFile(tempOutput, intermediate); err != nil {
		verdict := failures.Verdict{
			Action:   failures.ActionContinue,
			Category: models.CategoryFileOperations,
			Code:     "MOVE_FAILED",
			Reason:   "moving temp output to intermediate path failed",
		}
		_ = p.recorder.Record(ctx, video.ID, models.FailureStagePostProcess, verdict, err.Error(),
			models.Map{"from": tempOutput, "to": intermediate}, 0)
		return fmt.Errorf("moving temp output: %w", err)
	}

	p.refreshService(ctx, video)

	p.logger.Info("replacing original file",
		slog.Int64("video_id", video.ID),
		slog.String("path", video.Path),
	)
	if err := os.Rename(intermediate, video.Path); err != nil {
		verdict := failures.Verdict{
			Action:   failures.ActionContinue,
			Category: models.CategoryFileOperations,
			Code:     "REPLACE_FAILED",
			Reason:   "replacing original with intermediate failed",
		}
		_ = p.recorder.Record(ctx, video.ID, models.FailureStagePostProcess, verdict, err.Error(),
			models.Map{"intermediate": intermediate, "original": video.Path}, 0)
		return fmt.Errorf("replacing original: %w", err)
	}

	return nil
}

// moveFile renames src to dst, falling back to an atomic copy plus delete
// when the rename crosses devices (the temp dir often lives on a different
// filesystem than the library).
func (p *PostProcessor) moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("renaming: %w", err)
	}

	p.logger.Debug("cross-device rename, copying instead",
		slog.String("from", src),
		slog.String("to", dst),
	)
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("copying across devices: %w", err)
	}

	if err := os.Remove(src); err != nil {
		// The copy landed; a leftover temp file is a warning, not a failure.
		p.logger.Warn("removing temp output after copy",
			slog.String("path", src),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// copyFile copies src into dst atomically: the content lands in a temp file
// in dst's directory and is renamed into place only when complete, so a
// crash mid-copy never leaves a truncated intermediate.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := renameio.TempFile(filepath.Dir(dst), dst)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer out.Cleanup()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying content: %w", err)
	}
	return out.CloseAtomicallyReplace()
}

// refreshService triggers the owning service's refresh and rename commands.
// Failures are recorded as sync_integration but do not abort the
// replacement.
func (p *PostProcessor) refreshService(ctx context.Context, video *models.Video) {
	client := p.radarr
	if video.ServiceType == models.ServiceTypeSonarr {
		client = p.sonarr
	}
	if client == nil || video.ServiceID == "" {
		return
	}

	if err := client.Refresh(ctx, video.ServiceID); err != nil {
		p.recordSyncFailure(ctx, video, "refresh", err)
		return
	}
	if err := client.Rename(ctx, video.ServiceID); err != nil {
		p.recordSyncFailure(ctx, video, "rename", err)
	}
}

// recordSyncFailure records a failed service command without failing the
// video; the file replacement still proceeds.
func (p *PostProcessor) recordSyncFailure(ctx context.Context, video *models.Video, op string, err error) {
	p.logger.Warn("service sync failed",
		slog.Int64("video_id", video.ID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	failure := &models.VideoFailure{
		VideoID:  video.ID,
		Stage:    models.FailureStagePostProcess,
		Category: models.CategorySyncIntegration,
		Code:     "SYNC_" + strings.ToUpper(op),
		Message:  err.Error(),
		SystemContext: models.Map{
			"classifier_action": string(failures.ActionContinue),
			"operation":         op,
		},
	}
	if recordErr := p.failrepo.RecordResolved(ctx, failure); recordErr != nil {
		p.logger.Error("recording sync failure", slog.String("error", recordErr.Error()))
	}
}
