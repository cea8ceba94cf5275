// Package media implements the per-video state machine driving the
// needs_analysis -> analyzed -> crf_searched -> encoded lifecycle.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// ErrInvalidTransition is returned when a transition's source state is not an
// allowed predecessor of the target. The video is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// allowedPredecessors maps each target state to the states a video may
// transition from.
var allowedPredecessors = map[models.VideoState][]models.VideoState{
	models.VideoStateAnalyzed: {
		models.VideoStateNeedsAnalysis,
		models.VideoStateCrfSearching, // rollback after a recoverable search failure
	},
	models.VideoStateCrfSearching: {models.VideoStateAnalyzed},
	models.VideoStateCrfSearched: {
		models.VideoStateCrfSearching,
		models.VideoStateEncoding, // rollback after a recoverable encode failure
	},
	models.VideoStateEncoding: {models.VideoStateCrfSearched},
	models.VideoStateEncoded:  {models.VideoStateEncoding},
	models.VideoStateFailed: {
		models.VideoStateNeedsAnalysis,
		models.VideoStateAnalyzed,
		models.VideoStateCrfSearching,
		models.VideoStateCrfSearched,
		models.VideoStateEncoding,
	},
	models.VideoStateNeedsAnalysis: {models.VideoStateAnalyzed},
}

// StateMachine performs and persists legal video state transitions and
// broadcasts each one on the telemetry bus. Bulk resets of terminal states
// bypass it by design; they live on the maintenance service.
type StateMachine struct {
	videos repository.VideoRepository
	bus    *events.Bus
	logger *slog.Logger
}

// NewStateMachine creates a new StateMachine.
func NewStateMachine(videos repository.VideoRepository, bus *events.Bus, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		videos: videos,
		bus:    bus,
		logger: logger.With("component", "state_machine"),
	}
}

// MarkAsAnalyzed transitions the video to analyzed.
func (m *StateMachine) MarkAsAnalyzed(ctx context.Context, video *models.Video) (*models.Video, error) {
	return m.transition(ctx, video, models.VideoStateAnalyzed)
}

// MarkAsCrfSearching transitions the video to crf_searching.
func (m *StateMachine) MarkAsCrfSearching(ctx context.Context, video *models.Video) (*models.Video, error) {
	return m.transition(ctx, video, models.VideoStateCrfSearching)
}

// MarkAsCrfSearched transitions the video to crf_searched.
func (m *StateMachine) MarkAsCrfSearched(ctx context.Context, video *models.Video) (*models.Video, error) {
	return m.transition(ctx, video, models.VideoStateCrfSearched)
}

// MarkAsEncoding transitions the video to encoding.
func (m *StateMachine) MarkAsEncoding(ctx context.Context, video *models.Video) (*models.Video, error) {
	return m.transition(ctx, video, models.VideoStateEncoding)
}

// MarkAsEncoded transitions the video to encoded.
func (m *StateMachine) MarkAsEncoded(ctx context.Context, video *models.Video) (*models.Video, error) {
	return m.transition(ctx, video, models.VideoStateEncoded)
}

// MarkAsFailed transitions the video to failed.
func (m *StateMachine) MarkAsFailed(ctx context.Context, video *models.Video) (*models.Video, error) {
	return m.transition(ctx, video, models.VideoStateFailed)
}

// MarkAsNeedsAnalysis transitions the video back to needs_analysis.
func (m *StateMachine) MarkAsNeedsAnalysis(ctx context.Context, video *models.Video) (*models.Video, error) {
	return m.transition(ctx, video, models.VideoStateNeedsAnalysis)
}

// transition validates, persists, and broadcasts a state change. The input
// snapshot is not mutated; the updated video is returned.
func (m *StateMachine) transition(ctx context.Context, video *models.Video, target models.VideoState) (*models.Video, error) {
	if video == nil {
		return nil, fmt.Errorf("transition to %s: nil video", target)
	}

	if !transitionAllowed(video.State, target) {
		return nil, fmt.Errorf("video %d: %s -> %s: %w", video.ID, video.State, target, ErrInvalidTransition)
	}

	if target == models.VideoStateAnalyzed && !video.Analyzed() {
		return nil, fmt.Errorf("video %d: media attributes incomplete for analyzed: %w", video.ID, ErrInvalidTransition)
	}

	if err := m.videos.SetState(ctx, video.ID, target); err != nil {
		return nil, fmt.Errorf("persisting %s -> %s: %w", video.State, target, err)
	}

	previous := video.State
	updated := *video
	updated.State = target
	updated.StateUpdatedAt = models.Now()

	m.logger.Debug("video state changed",
		slog.Int64("video_id", video.ID),
		slog.String("previous", string(previous)),
		slog.String("new", string(target)),
	)

	m.bus.Publish(events.TopicVideoStateChanged, events.VideoStateChanged{
		Video:         &updated,
		PreviousState: previous,
		NewState:      target,
	})

	return &updated, nil
}

// transitionAllowed reports whether source appears in target's predecessors.
func transitionAllowed(source, target models.VideoState) bool {
	for _, s := range allowedPredecessors[target] {
		if s == source {
			return true
		}
	}
	return false
}
