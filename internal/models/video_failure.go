package models

// FailureStage identifies which pipeline stage produced a failure.
type FailureStage string

const (
	// FailureStageAnalysis covers mediainfo analysis failures.
	FailureStageAnalysis FailureStage = "analysis"
	// FailureStageCrfSearch covers ab-av1 crf-search failures.
	FailureStageCrfSearch FailureStage = "crf_search"
	// FailureStageEncoding covers ab-av1 encode failures.
	FailureStageEncoding FailureStage = "encoding"
	// FailureStagePostProcess covers file replacement and service sync failures.
	FailureStagePostProcess FailureStage = "post_process"
)

// FailureCategory classifies a failure for operator triage.
type FailureCategory string

// Failure categories.
const (
	CategoryFileAccess         FailureCategory = "file_access"
	CategoryMediainfoParsing   FailureCategory = "mediainfo_parsing"
	CategoryValidation         FailureCategory = "validation"
	CategoryVmafCalculation    FailureCategory = "vmaf_calculation"
	CategoryCrfOptimization    FailureCategory = "crf_optimization"
	CategorySizeLimits         FailureCategory = "size_limits"
	CategoryPresetRetry        FailureCategory = "preset_retry"
	CategoryProcessFailure     FailureCategory = "process_failure"
	CategoryResourceExhaustion FailureCategory = "resource_exhaustion"
	CategoryTimeout            FailureCategory = "timeout"
	CategoryCodecIssues        FailureCategory = "codec_issues"
	CategoryConfiguration      FailureCategory = "configuration"
	CategorySystemEnvironment  FailureCategory = "system_environment"
	CategoryFileOperations     FailureCategory = "file_operations"
	CategorySyncIntegration    FailureCategory = "sync_integration"
	CategoryCleanup            FailureCategory = "cleanup"
	CategoryUnknown            FailureCategory = "unknown"
)

// VideoFailure is an append-only audit record of a per-video failure.
// Writing one also transitions the video to failed in the same transaction.
type VideoFailure struct {
	BaseModel

	// VideoID references the failed video.
	VideoID int64 `gorm:"not null;index" json:"video_id"`

	// Stage is the pipeline stage that failed.
	Stage FailureStage `gorm:"not null;size:20;index" json:"stage"`

	// Category classifies the failure.
	Category FailureCategory `gorm:"not null;size:30;index" json:"category"`

	// Code is a short tag, e.g. "EXIT_137".
	Code string `gorm:"size:40" json:"code"`

	// Message is the human-readable failure description.
	Message string `gorm:"size:4096" json:"message"`

	// RetryCount is how many times this operation had been retried.
	RetryCount int `gorm:"default:0" json:"retry_count"`

	// SystemContext carries command argv, output tail, and the classifier
	// verdict for debugging.
	SystemContext Map `gorm:"type:text;serializer:json" json:"system_context,omitempty"`

	// Resolved marks failures an operator has cleared.
	Resolved bool `gorm:"not null;default:false;index" json:"resolved"`

	// ResolvedAt is when the failure was resolved.
	ResolvedAt *Time `json:"resolved_at,omitempty"`
}

// TableName returns the table name for VideoFailure.
func (VideoFailure) TableName() string {
	return "video_failures"
}
