package failures

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// tailContextLines is how many trailing output lines go into a failure's
// system context.
const tailContextLines = 25

// Recorder writes VideoFailure audit records. The repository transitions
// the video to failed in the same transaction.
type Recorder struct {
	failures repository.VideoFailureRepository
	logger   *slog.Logger
}

// NewRecorder creates a failure recorder.
func NewRecorder(failures repository.VideoFailureRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		failures: failures,
		logger:   logger.With("component", "failure_recorder"),
	}
}

// Record writes one failure record. The classifier verdict lands in the
// system context alongside whatever the caller supplies.
func (r *Recorder) Record(
	ctx context.Context,
	videoID int64,
	stage models.FailureStage,
	verdict Verdict,
	message string,
	systemContext models.Map,
	retryCount int,
) error {
	if systemContext == nil {
		systemContext = models.Map{}
	}
	systemContext["classifier_action"] = string(verdict.Action)

	failure := &models.VideoFailure{
		VideoID:       videoID,
		Stage:         stage,
		Category:      verdict.Category,
		Code:          verdict.Code,
		Message:       message,
		RetryCount:    retryCount,
		SystemContext: systemContext,
	}

	if err := r.failures.Record(ctx, failure); err != nil {
		return fmt.Errorf("recording %s failure: %w", stage, err)
	}

	r.logger.Warn("video failure recorded",
		slog.Int64("video_id", videoID),
		slog.String("stage", string(stage)),
		slog.String("category", string(verdict.Category)),
		slog.String("code", verdict.Code),
		slog.String("action", string(verdict.Action)),
	)
	return nil
}

// CommandContext builds the standard system context for a subprocess
// failure: the command line and the output tail.
func CommandContext(command string, args []string, tail []string) models.Map {
	if len(tail) > tailContextLines {
		tail = tail[len(tail)-tailContextLines:]
	}
	return models.Map{
		"command":          command,
		"args":             strings.Join(args, " "),
		"full_output_tail": strings.Join(tail, "\n"),
	}
}
