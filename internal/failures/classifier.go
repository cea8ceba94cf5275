// Package failures classifies subprocess failures and records them against
// videos. The classifier's pause verdict is retained for observability but
// the pipelines continue regardless; a single bad file must never stall the
// fleet.
package failures

import (
	"fmt"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// Action is the classifier's verdict: whether the failure is systemic
// (pause-worthy) or file-specific (continue).
type Action string

const (
	// ActionPause marks systemic failures: resource exhaustion, bad
	// configuration, a broken environment.
	ActionPause Action = "pause"
	// ActionContinue marks file-specific failures: skip the file, move on.
	ActionContinue Action = "continue"
)

// Kind distinguishes non-exit-code failure sources.
type Kind int

const (
	// KindExitCode classifies a subprocess exit code.
	KindExitCode Kind = iota
	// KindPortError classifies a failure to spawn or stream the subprocess.
	KindPortError
	// KindException classifies a panic or unexpected error in the processor.
	KindException
)

// Verdict is the classification result.
type Verdict struct {
	Action   Action
	Category models.FailureCategory
	Code     string
	Reason   string
}

// Classify maps a subprocess exit code to a verdict. Total over all
// integers: unknown codes are file-specific skips.
func Classify(exitCode int) Verdict {
	code := fmt.Sprintf("EXIT_%d", exitCode)

	switch exitCode {
	case 137:
		return Verdict{ActionPause, models.CategoryResourceExhaustion, code, "Process killed by system (OOM)"}
	case 143:
		return Verdict{ActionPause, models.CategoryResourceExhaustion, code, "Process terminated (SIGTERM)"}
	case 2:
		return Verdict{ActionPause, models.CategoryConfiguration, code, "Invalid arguments"}
	case 5:
		return Verdict{ActionPause, models.CategorySystemEnvironment, code, "I/O error"}
	case 28:
		return Verdict{ActionPause, models.CategorySizeLimits, code, "No space left on device"}
	case 110:
		return Verdict{ActionPause, models.CategoryTimeout, code, "Network timeout"}
	case 1:
		return Verdict{ActionContinue, models.CategoryProcessFailure, code, "Standard encoding failure"}
	case 13:
		return Verdict{ActionContinue, models.CategoryFileAccess, code, "Permission denied (file-specific)"}
	case 22:
		return Verdict{ActionContinue, models.CategoryValidation, code, "Invalid file format"}
	case 69:
		return Verdict{ActionContinue, models.CategoryCodecIssues, code, "Unsupported codec"}
	case 234:
		return Verdict{ActionContinue, models.CategoryCodecIssues, code, "Audio channel layout error"}
	default:
		return Verdict{ActionContinue, models.CategoryUnknown, code, "Unknown failure (skip file)"}
	}
}

// ClassifyKind maps a non-exit-code failure source to a verdict.
func ClassifyKind(kind Kind) Verdict {
	switch kind {
	case KindPortError:
		return Verdict{ActionPause, models.CategorySystemEnvironment, "PORT_ERROR", "Subprocess could not be spawned or streamed"}
	case KindException:
		return Verdict{ActionPause, models.CategoryProcessFailure, "EXCEPTION", "Unexpected processor error"}
	default:
		return Verdict{ActionContinue, models.CategoryUnknown, "UNKNOWN", "Unknown failure kind"}
	}
}

// Systemic reports whether the verdict's category marks the video
// unrecoverable without operator intervention, as opposed to eligible for a
// rollback-and-retry.
func Systemic(category models.FailureCategory) bool {
	switch category {
	case models.CategoryConfiguration,
		models.CategorySizeLimits,
		models.CategorySystemEnvironment,
		models.CategoryResourceExhaustion,
		models.CategoryTimeout:
		return true
	default:
		return false
	}
}
