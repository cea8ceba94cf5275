package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/abav1"
	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/media"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/procrunner"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/rules"
)

// Encoder picks chosen VMAFs whose video is crf_searched, runs ab-av1
// encode, and on success replaces the original file.
type Encoder struct {
	videos   repository.VideoRepository
	machine  *media.StateMachine
	recorder *failures.Recorder
	runner   *procrunner.Runner
	bus      *events.Bus
	post     *PostProcessor
	producer *Producer[*models.Vmaf]
	logger   *slog.Logger

	tempDir string
	timeout time.Duration
}

// NewEncoder creates the encoder pipeline.
func NewEncoder(
	cfg config.PipelinesConfig,
	tempDir string,
	videos repository.VideoRepository,
	machine *media.StateMachine,
	recorder *failures.Recorder,
	runner *procrunner.Runner,
	post *PostProcessor,
	bus *events.Bus,
	logger *slog.Logger,
) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Encoder{
		videos:   videos,
		machine:  machine,
		recorder: recorder,
		runner:   runner,
		bus:      bus,
		post:     post,
		logger:   logger.With("component", "encoder"),
		tempDir:  tempDir,
		timeout:  cfg.Encoder.Timeout.Duration(),
	}

	e.producer = NewProducer(
		"encoder",
		cfg.QueueSize,
		cfg.Encoder.Rate,
		bus,
		events.TopicEncoderIdle,
		logger,
		e.refill,
		e.process,
		func(v *models.Vmaf) string {
			return fmt.Sprintf("video %d @ crf %s", v.VideoID, strconv.FormatFloat(v.CRF, 'f', -1, 64))
		},
	)
	return e
}

// Start launches the producer.
func (e *Encoder) Start(ctx context.Context) {
	e.producer.Start(ctx)
}

// Wait blocks until the pipeline has stopped.
func (e *Encoder) Wait() {
	e.producer.Wait()
}

// DispatchAvailable signals that new encode work may exist.
func (e *Encoder) DispatchAvailable() {
	e.producer.DispatchAvailable()
}

// refill loads chosen samples whose video awaits encoding, best savings first.
func (e *Encoder) refill(ctx context.Context, limit int) ([]*models.Vmaf, error) {
	return e.videos.NextForEncoding(ctx, limit)
}

// process runs the full encode lifecycle for one chosen sample.
func (e *Encoder) process(ctx context.Context, vmaf *models.Vmaf) {
	video, err := e.videos.GetByID(ctx, vmaf.VideoID)
	if err != nil || video == nil {
		e.logger.Warn("loading video for encode",
			slog.Int64("video_id", vmaf.VideoID),
		)
		return
	}

	updated, err := e.machine.MarkAsEncoding(ctx, video)
	if err != nil {
		e.logger.Warn("starting encode",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	video = updated

	outputPath := filepath.Join(e.tempDir, video.TempOutputName())
	base := abav1.EncodeBase(vmaf.CRF, outputPath, video.Path)
	argv := rules.BuildArgs(video, rules.ContextEncode, vmaf.Params, base)

	encodeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	handle, err := e.runner.Spawn(encodeCtx, abav1.Binary, argv...)
	if err != nil {
		verdict := failures.ClassifyKind(failures.KindPortError)
		_ = e.recorder.Record(ctx, video.ID, models.FailureStageEncoding, verdict,
			"spawning ab-av1 encode: "+err.Error(), nil, 0)
		e.bus.Publish(events.TopicEncoderFailed, events.EncoderProgress{Filename: video.Basename()})
		return
	}

	e.streamProgress(video, handle)
	exitCode, waitErr := handle.Wait()

	if errors.Is(encodeCtx.Err(), context.DeadlineExceeded) {
		e.handleTimeout(ctx, video, handle)
		return
	}

	outputExists := fileExists(outputPath)
	if exitCode == 0 && waitErr == nil && outputExists {
		e.succeed(ctx, video, outputPath)
		return
	}

	e.handleFailure(ctx, video, handle, exitCode, outputExists)
}

// streamProgress consumes the subprocess output, merging progress updates
// and publishing telemetry enriched with process resource stats.
func (e *Encoder) streamProgress(video *models.Video, handle *procrunner.Handle) {
	current := events.EncoderProgress{Filename: video.Basename()}

	for line := range handle.Lines() {
		if _, ok := abav1.ParseEncodingStart(line); ok {
			e.bus.Publish(events.TopicEncoderStarted, events.EncoderProgress{
				Filename: video.Basename(),
			})
			continue
		}
		if progress, ok := abav1.ParseEncodeProgress(line); ok {
			incoming := events.EncoderProgress{
				Filename:   video.Basename(),
				Percent:    progress.Percent,
				FPS:        progress.FPS,
				ETASeconds: progress.ETASeconds,
			}
			if stats := handle.Stats(); stats != nil {
				incoming.CPUPercent = stats.CPUPercent
				incoming.RSSBytes = stats.RSSBytes
			}
			current = current.Merge(incoming)
			e.bus.Publish(events.TopicEncoderProgress, current)
			continue
		}
		// File-size progress is observed but carries nothing the dashboard
		// uses yet.
		_ = abav1.IsEncodedSizeLine(line)
	}
}

// succeed post-processes the output and marks the video encoded.
func (e *Encoder) succeed(ctx context.Context, video *models.Video, outputPath string) {
	if err := e.post.Run(ctx, video, outputPath); err != nil {
		e.logger.Error("post-processing failed",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		e.bus.Publish(events.TopicEncoderFailed, events.EncoderProgress{Filename: video.Basename()})
		return
	}

	if _, err := e.machine.MarkAsEncoded(ctx, video); err != nil {
		e.logger.Error("marking encoded", slog.String("error", err.Error()))
		return
	}

	e.bus.Publish(events.TopicEncoderCompleted, events.EncoderProgress{
		Filename: video.Basename(),
		Percent:  100,
	})
	e.logger.Info("encode complete", slog.Int64("video_id", video.ID), slog.String("path", video.Path))
}

// handleTimeout cancels the child and records a timeout failure.
func (e *Encoder) handleTimeout(ctx context.Context, video *models.Video, handle *procrunner.Handle) {
	handle.Cancel()

	verdict := failures.Verdict{
		Action:   failures.ActionPause,
		Category: models.CategoryTimeout,
		Code:     "ENCODE_TIMEOUT",
		Reason:   "encode exceeded configured timeout",
	}
	name, args := handle.Command()
	_ = e.recorder.Record(ctx, video.ID, models.FailureStageEncoding, verdict,
		"encode timed out after "+e.timeout.String(),
		failures.CommandContext(name, args, handle.Tail()), 0)

	e.bus.Publish(events.TopicEncoderFailed, events.EncoderProgress{Filename: video.Basename()})
}

// handleFailure classifies and records a failed encode.
func (e *Encoder) handleFailure(ctx context.Context, video *models.Video, handle *procrunner.Handle, exitCode int, outputExists bool) {
	verdict := failures.Classify(exitCode)

	message := verdict.Reason
	if enriched, ok := abav1.ExtractFFmpegError(handle.Tail()); ok {
		message = message + ": " + enriched
	}
	if exitCode == 0 && !outputExists {
		verdict = failures.Verdict{
			Action:   failures.ActionContinue,
			Category: models.CategoryProcessFailure,
			Code:     "MISSING_OUTPUT",
			Reason:   "encode exited cleanly but produced no output file",
		}
		message = verdict.Reason
	}

	name, args := handle.Command()
	_ = e.recorder.Record(ctx, video.ID, models.FailureStageEncoding, verdict, message,
		failures.CommandContext(name, args, handle.Tail()), 0)

	e.bus.Publish(events.TopicEncoderFailed, events.EncoderProgress{Filename: video.Basename()})
}

// fileExists reports whether the path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
