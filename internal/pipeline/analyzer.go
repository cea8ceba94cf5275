package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/media"
	"github.com/mjc/reencodarr-sub000/internal/mediainfo"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/procrunner"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// Dispatcher lets one pipeline nudge the next one's producer.
type Dispatcher interface {
	DispatchAvailable()
}

// Analyzer picks needs_analysis videos, batches them through mediainfo, and
// advances them to analyzed.
type Analyzer struct {
	videos    repository.VideoRepository
	libraries repository.LibraryRepository
	machine   *media.StateMachine
	recorder  *failures.Recorder
	runner    *procrunner.Runner
	bus       *events.Bus
	monitor   *PerfMonitor
	producer  *Producer[[]*models.Video]
	next      Dispatcher
	logger    *slog.Logger
}

// NewAnalyzer creates the analyzer pipeline.
func NewAnalyzer(
	cfg config.PipelinesConfig,
	videos repository.VideoRepository,
	libraries repository.LibraryRepository,
	machine *media.StateMachine,
	recorder *failures.Recorder,
	runner *procrunner.Runner,
	bus *events.Bus,
	logger *slog.Logger,
) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Analyzer{
		videos:    videos,
		libraries: libraries,
		machine:   machine,
		recorder:  recorder,
		runner:    runner,
		bus:       bus,
		monitor:   NewPerfMonitor(cfg.Analyzer.Rate.Messages, cfg.Analyzer.MediainfoBatchSize, bus, logger),
		logger:    logger.With("component", "analyzer"),
	}

	a.producer = NewProducer(
		"analyzer",
		1, // one batch in flight; the batch itself carries up to batchSize videos
		cfg.Analyzer.Rate,
		bus,
		events.TopicAnalyzerIdle,
		logger,
		a.refill,
		a.processBatch,
		func(batch []*models.Video) string {
			if len(batch) == 0 {
				return ""
			}
			return batch[0].Basename()
		},
	)
	return a
}

// SetNext wires the downstream CRF-searcher dispatcher.
func (a *Analyzer) SetNext(next Dispatcher) {
	a.next = next
}

// Monitor exposes the performance monitor for manual overrides.
func (a *Analyzer) Monitor() *PerfMonitor {
	return a.monitor
}

// Start launches the producer and the performance monitor.
func (a *Analyzer) Start(ctx context.Context) {
	a.monitor.Start(ctx)
	a.producer.Start(ctx)
}

// Wait blocks until the pipeline has stopped.
func (a *Analyzer) Wait() {
	a.producer.Wait()
}

// DispatchAvailable signals that new analysis work may exist.
func (a *Analyzer) DispatchAvailable() {
	a.producer.DispatchAvailable()
}

// refill loads the next mediainfo batch.
func (a *Analyzer) refill(ctx context.Context, _ int) ([][]*models.Video, error) {
	batch, err := a.videos.NextForAnalysis(ctx, a.monitor.BatchSize())
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return [][]*models.Video{batch}, nil
}

// processBatch runs one mediainfo invocation over the batch and upserts the
// results.
func (a *Analyzer) processBatch(ctx context.Context, batch []*models.Video) {
	started := time.Now()

	// Videos that already carry attributes advance without a mediainfo run;
	// re-analysis requires an explicit force that nulls them first.
	pending := make([]*models.Video, 0, len(batch))
	for _, video := range batch {
		if video.Analyzed() {
			a.logger.Debug("skipping analysis, attributes present",
				slog.Int64("video_id", video.ID),
				slog.String("path", video.Path),
			)
			if _, err := a.machine.MarkAsAnalyzed(ctx, video); err != nil {
				a.logger.Warn("advancing pre-analyzed video", slog.String("error", err.Error()))
			}
			continue
		}
		pending = append(pending, video)
	}
	if len(pending) == 0 {
		a.finishBatch(ctx, len(batch), started)
		return
	}

	a.bus.Publish(events.TopicAnalyzerStarted, events.AnalyzerProgress{
		BatchSize: len(pending),
		QueueSize: a.producer.QueueSize(),
	})

	paths := make([]string, 0, len(pending))
	for _, video := range pending {
		paths = append(paths, video.Path)
	}

	infos, err := a.runMediainfo(ctx, pending, paths)
	if err != nil {
		// Failures were recorded per video inside runMediainfo.
		a.finishBatch(ctx, len(batch), started)
		return
	}

	libraries, err := a.libraries.GetAll(ctx)
	if err != nil {
		a.logger.Error("loading libraries", slog.String("error", err.Error()))
		libraries = nil
	}

	for _, video := range pending {
		a.upsertOne(ctx, video, infos[video.Path], libraries)
	}

	a.finishBatch(ctx, len(batch), started)
}

// runMediainfo invokes mediainfo over the batch and parses its JSON output.
// On subprocess or parse failure every video in the batch gets a failure
// record and a non-nil error is returned.
func (a *Analyzer) runMediainfo(ctx context.Context, batch []*models.Video, paths []string) (map[string]*mediainfo.FileInfo, error) {
	handle, err := a.runner.Spawn(ctx, mediainfo.Binary, mediainfo.Args(paths)...)
	if err != nil {
		verdict := failures.ClassifyKind(failures.KindPortError)
		for _, video := range batch {
			_ = a.recorder.Record(ctx, video.ID, models.FailureStageAnalysis, verdict,
				"spawning mediainfo: "+err.Error(), nil, 0)
		}
		return nil, err
	}

	var output strings.Builder
	for line := range handle.Lines() {
		output.WriteString(line)
		output.WriteByte('\n')
	}
	exitCode, waitErr := handle.Wait()

	if waitErr != nil || exitCode != 0 {
		message := "mediainfo exited non-zero"
		if waitErr != nil {
			message = "waiting for mediainfo: " + waitErr.Error()
		}
		verdict := failures.Verdict{
			Action:   failures.Classify(exitCode).Action,
			Category: models.CategoryMediainfoParsing,
			Code:     failures.Classify(exitCode).Code,
			Reason:   message,
		}
		name, args := handle.Command()
		sysCtx := failures.CommandContext(name, args, handle.Tail())
		for _, video := range batch {
			_ = a.recorder.Record(ctx, video.ID, models.FailureStageAnalysis, verdict, message, sysCtx, 0)
		}
		if waitErr == nil {
			waitErr = fmt.Errorf("mediainfo exited with code %d", exitCode)
		}
		return nil, waitErr
	}

	infos, err := mediainfo.Parse([]byte(output.String()))
	if err != nil {
		verdict := failures.Verdict{
			Action:   failures.ActionContinue,
			Category: models.CategoryMediainfoParsing,
			Code:     "PARSE_ERROR",
			Reason:   err.Error(),
		}
		for _, video := range batch {
			_ = a.recorder.Record(ctx, video.ID, models.FailureStageAnalysis, verdict,
				"parsing mediainfo output: "+err.Error(), nil, 0)
		}
		return nil, err
	}
	return infos, nil
}

// upsertOne applies one file's extraction to its video and advances it.
func (a *Analyzer) upsertOne(ctx context.Context, video *models.Video, info *mediainfo.FileInfo, libraries []*models.Library) {
	if info == nil {
		verdict := failures.Verdict{
			Action:   failures.ActionContinue,
			Category: models.CategoryMediainfoParsing,
			Code:     "NO_TRACKS",
			Reason:   "mediainfo reported no tracks for path",
		}
		_ = a.recorder.Record(ctx, video.ID, models.FailureStageAnalysis, verdict,
			"mediainfo output missing path "+video.Path, nil, 0)
		return
	}

	if info.Size == 0 {
		verdict := failures.Verdict{
			Action:   failures.ActionContinue,
			Category: models.CategoryFileAccess,
			Code:     "EMPTY_FILESIZE",
			Reason:   "mediainfo reported empty FileSize",
		}
		_ = a.recorder.Record(ctx, video.ID, models.FailureStageAnalysis, verdict,
			"empty FileSize for "+video.Path, nil, 0)
		return
	}

	video.Size = info.Size
	video.Bitrate = info.Bitrate()
	if info.Duration > 0 {
		video.Duration = models.Float64Ptr(info.Duration)
	}
	video.Width = info.Width
	video.Height = info.Height
	video.FrameRate = info.FrameRate
	video.VideoCodecs = info.VideoCodecs
	video.AudioCodecs = info.AudioCodecs
	if info.MaxAudioChannels > 0 {
		video.MaxAudioChannels = models.IntPtr(info.MaxAudioChannels)
	}
	video.Atmos = info.Atmos
	video.HDR = info.HDR
	video.MediaInfo = models.Map{
		"overall_bitrate": info.OverallBitrate,
		"video_bitrate":   info.VideoBitrate,
		"audio_bitrate":   info.AudioBitrate,
	}
	if lib := models.MatchLibrary(libraries, video.Path); lib != nil {
		video.LibraryID = &lib.ID
	}

	if video.Bitrate <= 0 {
		verdict := failures.Verdict{
			Action:   failures.ActionContinue,
			Category: models.CategoryValidation,
			Code:     "ZERO_BITRATE",
			Reason:   "no usable bitrate could be derived",
		}
		_ = a.recorder.Record(ctx, video.ID, models.FailureStageAnalysis, verdict,
			"zero derived bitrate for "+video.Path, nil, 0)
		return
	}

	if err := a.videos.Update(ctx, video); err != nil {
		a.logger.Error("upserting analyzed video",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := a.machine.MarkAsAnalyzed(ctx, video); err != nil {
		a.logger.Warn("marking analyzed",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	a.bus.Publish(events.TopicVideoUpserted, events.MediaUpserted{ID: video.ID})
}

// finishBatch records throughput, emits completion, and nudges the
// CRF-searcher.
func (a *Analyzer) finishBatch(ctx context.Context, videos int, started time.Time) {
	a.monitor.RecordBatch(videos, time.Since(started))
	a.bus.Publish(events.TopicAnalyzerCompleted, events.AnalyzerProgress{
		BatchSize:  videos,
		Throughput: a.monitor.AverageThroughput(),
		QueueSize:  a.producer.QueueSize(),
		Percent:    100,
	})
	if a.next != nil {
		a.next.DispatchAvailable()
	}
}
