package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mjc/reencodarr-sub000/internal/abav1"
	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/hints"
	"github.com/mjc/reencodarr-sub000/internal/media"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/procrunner"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/rules"
)

// crfSearchRetryBudget is how many recoverable search failures a video may
// accumulate before it stays failed.
const crfSearchRetryBudget = 3

// CrfSearcher picks analyzed videos, runs ab-av1 crf-search with hinted
// bounds, ingests the resulting VMAF samples, and elects the chosen one.
type CrfSearcher struct {
	videos   repository.VideoRepository
	vmafs    repository.VmafRepository
	failrepo repository.VideoFailureRepository
	machine  *media.StateMachine
	recorder *failures.Recorder
	hinter   *hints.Engine
	runner   *procrunner.Runner
	bus      *events.Bus
	producer *Producer[*models.Video]
	next     Dispatcher
	logger   *slog.Logger

	tempDir        string
	presetFallback []string
}

// NewCrfSearcher creates the CRF-search pipeline.
func NewCrfSearcher(
	cfg config.PipelinesConfig,
	tempDir string,
	videos repository.VideoRepository,
	vmafs repository.VmafRepository,
	failrepo repository.VideoFailureRepository,
	machine *media.StateMachine,
	recorder *failures.Recorder,
	hinter *hints.Engine,
	runner *procrunner.Runner,
	bus *events.Bus,
	logger *slog.Logger,
) *CrfSearcher {
	if logger == nil {
		logger = slog.Default()
	}

	s := &CrfSearcher{
		videos:         videos,
		vmafs:          vmafs,
		failrepo:       failrepo,
		machine:        machine,
		recorder:       recorder,
		hinter:         hinter,
		runner:         runner,
		bus:            bus,
		logger:         logger.With("component", "crf_searcher"),
		tempDir:        tempDir,
		presetFallback: cfg.CrfSearch.PresetFallback,
	}

	s.producer = NewProducer(
		"crf_searcher",
		cfg.QueueSize,
		cfg.CrfSearch.Rate,
		bus,
		events.TopicCrfSearcherIdle,
		logger,
		s.refill,
		s.process,
		func(v *models.Video) string { return v.Basename() },
	)
	return s
}

// SetNext wires the downstream encoder dispatcher.
func (s *CrfSearcher) SetNext(next Dispatcher) {
	s.next = next
}

// Start launches the producer.
func (s *CrfSearcher) Start(ctx context.Context) {
	s.producer.Start(ctx)
}

// Wait blocks until the pipeline has stopped.
func (s *CrfSearcher) Wait() {
	s.producer.Wait()
}

// DispatchAvailable signals that new search work may exist.
func (s *CrfSearcher) DispatchAvailable() {
	s.producer.DispatchAvailable()
}

// refill loads analyzed videos, oldest first.
func (s *CrfSearcher) refill(ctx context.Context, limit int) ([]*models.Video, error) {
	return s.videos.NextForCrfSearch(ctx, limit)
}

// process runs the full search lifecycle for one video.
func (s *CrfSearcher) process(ctx context.Context, video *models.Video) {
	updated, err := s.machine.MarkAsCrfSearching(ctx, video)
	if err != nil {
		s.logger.Warn("starting crf search",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	video = updated

	s.bus.Publish(events.TopicCrfSearcherStarted, events.CrfSearchProgress{
		Filename: video.Basename(),
	})

	outcome := s.runSearch(ctx, video, false, nil)
	if outcome == searchNoSamples {
		// Hint-derived bounds are the usual cause of an empty search; retry
		// once with the full default range plus any configured preset
		// fallback.
		if err := s.videos.SetState(ctx, video.ID, models.VideoStateCrfSearching); err != nil {
			s.logger.Error("reviving video for search retry", slog.String("error", err.Error()))
		} else {
			video.State = models.VideoStateCrfSearching
			s.runSearch(ctx, video, true, s.presetFallback)
		}
	}

	s.bus.Publish(events.TopicCrfSearcherCompleted, events.CrfSearchProgress{
		Filename: video.Basename(),
		Percent:  100,
	})
	if s.next != nil {
		s.next.DispatchAvailable()
	}
}

// searchOutcome summarizes one crf-search run.
type searchOutcome int

const (
	searchSucceeded searchOutcome = iota
	searchNoSamples
	searchFailed
)

// runSearch executes one crf-search subprocess and handles its exit.
func (s *CrfSearcher) runSearch(ctx context.Context, video *models.Video, retry bool, extraOverrides []string) searchOutcome {
	target := rules.VmafTarget(video)
	minCRF, maxCRF, err := s.hinter.Range(ctx, video, float64(target), retry)
	if err != nil {
		s.logger.Error("computing crf range", slog.String("error", err.Error()))
		minCRF, maxCRF = hints.DefaultMinCRF, hints.DefaultMaxCRF
	}

	base := abav1.CrfSearchBase(video.Path, target, s.tempDir, minCRF, maxCRF)
	argv := rules.BuildArgs(video, rules.ContextCrfSearch, extraOverrides, base)
	params := sampleParams(argv)

	handle, err := s.runner.Spawn(ctx, abav1.Binary, argv...)
	if err != nil {
		verdict := failures.ClassifyKind(failures.KindPortError)
		_ = s.recorder.Record(ctx, video.ID, models.FailureStageCrfSearch, verdict,
			"spawning ab-av1 crf-search: "+err.Error(), nil, retryCount(retry))
		return searchFailed
	}

	var lastVmaf *models.Vmaf
	sampleCount := 0
	for line := range handle.Lines() {
		sample, ok := abav1.ParseSample(line)
		if !ok {
			continue
		}
		vmaf := s.ingestSample(ctx, video, sample, params)
		if vmaf != nil {
			lastVmaf = vmaf
			sampleCount++
		}
	}
	exitCode, waitErr := handle.Wait()
	if waitErr != nil {
		exitCode = -1
	}

	switch {
	case exitCode == 0 && sampleCount > 0:
		return s.electChosen(ctx, video, lastVmaf)

	case exitCode == 0:
		category := models.CategoryCrfOptimization
		code := "NO_SAMPLES"
		if retry {
			category = models.CategoryPresetRetry
			code = "PRESET_RETRY_EXHAUSTED"
		}
		verdict := failures.Verdict{
			Action:   failures.ActionContinue,
			Category: category,
			Code:     code,
			Reason:   "crf-search produced no usable samples",
		}
		name, args := handle.Command()
		_ = s.recorder.Record(ctx, video.ID, models.FailureStageCrfSearch, verdict,
			fmt.Sprintf("crf-search found no crf meeting VMAF %d", target),
			failures.CommandContext(name, args, handle.Tail()), retryCount(retry))
		if retry {
			return searchFailed
		}
		return searchNoSamples

	default:
		s.handleFailure(ctx, video, handle, exitCode, retry)
		return searchFailed
	}
}

// ingestSample upserts one observed sample and publishes progress.
func (s *CrfSearcher) ingestSample(ctx context.Context, video *models.Video, sample abav1.Sample, params []string) *models.Vmaf {
	vmaf := &models.Vmaf{
		VideoID: video.ID,
		CRF:     sample.CRF,
		Score:   sample.Score,
		Percent: sample.Percent,
		Size:    sample.Size,
		Time:    sample.TimeSeconds,
		Params:  params,
	}
	vmaf.ComputeSavings(video.Size)

	if err := s.vmafs.Upsert(ctx, vmaf); err != nil {
		s.logger.Error("upserting vmaf sample",
			slog.Int64("video_id", video.ID),
			slog.Float64("crf", sample.CRF),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.bus.Publish(events.TopicVmafUpserted, events.MediaUpserted{ID: vmaf.ID})
	s.bus.Publish(events.TopicCrfSearcherProgress, events.CrfSearchProgress{
		Filename: video.Basename(),
		Percent:  sample.Percent,
		CRF:      sample.CRF,
		Score:    sample.Score,
	})
	return vmaf
}

// electChosen marks the last emitted sample as chosen and advances the
// video. ab-av1 reports the best accepted sample last.
func (s *CrfSearcher) electChosen(ctx context.Context, video *models.Video, vmaf *models.Vmaf) searchOutcome {
	if err := s.vmafs.SetChosen(ctx, video.ID, vmaf.ID); err != nil {
		s.logger.Error("electing chosen vmaf", slog.String("error", err.Error()))
		return searchFailed
	}
	video.ChosenVmafID = &vmaf.ID

	if _, err := s.machine.MarkAsCrfSearched(ctx, video); err != nil {
		s.logger.Error("marking crf_searched", slog.String("error", err.Error()))
		return searchFailed
	}

	s.logger.Info("crf search complete",
		slog.Int64("video_id", video.ID),
		slog.Float64("crf", vmaf.CRF),
		slog.Float64("score", vmaf.Score),
	)
	return searchSucceeded
}

// handleFailure classifies a non-zero exit and records it. Recoverable
// categories roll the video back to analyzed while retry budget remains.
func (s *CrfSearcher) handleFailure(ctx context.Context, video *models.Video, handle *procrunner.Handle, exitCode int, retry bool) {
	verdict := failures.Classify(exitCode)

	message := verdict.Reason
	if enriched, ok := abav1.ExtractFFmpegError(handle.Tail()); ok {
		message = message + ": " + enriched
	}

	name, args := handle.Command()
	_ = s.recorder.Record(ctx, video.ID, models.FailureStageCrfSearch, verdict, message,
		failures.CommandContext(name, args, handle.Tail()), retryCount(retry))

	if failures.Systemic(verdict.Category) {
		return // stays failed
	}

	priorFailures, err := s.failrepo.GetByVideo(ctx, video.ID)
	if err != nil {
		s.logger.Error("counting prior failures", slog.String("error", err.Error()))
		return
	}
	searchFailures := 0
	for _, f := range priorFailures {
		if f.Stage == models.FailureStageCrfSearch {
			searchFailures++
		}
	}
	if searchFailures < crfSearchRetryBudget {
		if err := s.videos.SetState(ctx, video.ID, models.VideoStateAnalyzed); err != nil {
			s.logger.Error("rolling back to analyzed", slog.String("error", err.Error()))
		}
	}
}

// retryCount maps the retry flag to the recorded attempt number.
func retryCount(retry bool) int {
	if retry {
		return 1
	}
	return 0
}

// boundFlags are stripped from argv when persisting a sample's params; the
// encode step re-binds input, output, and quality itself.
var boundFlags = map[string]bool{
	"-i":         true,
	"--input":    true,
	"--temp-dir": true,
	"--min-vmaf": true,
	"--min-crf":  true,
	"--max-crf":  true,
}

// sampleParams strips the subcommand and bound flags from a crf-search argv,
// leaving the fragment that shaped the sample's quality.
func sampleParams(argv []string) []string {
	var out []string
	for i := 1; i < len(argv); i++ { // skip subcommand
		token := argv[i]
		if boundFlags[token] {
			i++ // skip the flag's value too
			continue
		}
		out = append(out, token)
	}
	return out
}
