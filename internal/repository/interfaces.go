// Package repository defines data access interfaces for reencodarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// VideoRepository defines operations for video persistence.
type VideoRepository interface {
	// Create creates a new video.
	Create(ctx context.Context, video *models.Video) error
	// GetByID retrieves a video by ID. Returns nil when not found.
	GetByID(ctx context.Context, id int64) (*models.Video, error)
	// GetByPath retrieves a video by its unique path. Returns nil when not found.
	GetByPath(ctx context.Context, path string) (*models.Video, error)
	// Update updates an existing video.
	Update(ctx context.Context, video *models.Video) error
	// Delete deletes a video by ID along with its Vmafs and failures.
	Delete(ctx context.Context, id int64) error
	// UpsertByPath creates the video or updates the existing row with the
	// same path, returning the persisted video.
	UpsertByPath(ctx context.Context, video *models.Video) (*models.Video, error)

	// NextForAnalysis returns videos in needs_analysis, oldest updated first.
	NextForAnalysis(ctx context.Context, limit int) ([]*models.Video, error)
	// NextForCrfSearch returns videos in analyzed, oldest updated first.
	NextForCrfSearch(ctx context.Context, limit int) ([]*models.Video, error)
	// NextForEncoding returns chosen Vmafs (with video preloaded) whose video
	// is crf_searched, ordered by savings descending (nulls last) then
	// predicted time ascending.
	NextForEncoding(ctx context.Context, limit int) ([]*models.Vmaf, error)

	// SetState persists a state change for the video.
	SetState(ctx context.Context, id int64, state models.VideoState) error

	// PageIDs returns up to limit video (id, path) pairs with id > afterID,
	// ordered by id. Used for paged maintenance sweeps.
	PageIDs(ctx context.Context, afterID int64, limit int) ([]VideoPathRow, error)

	// CountByState returns the number of videos per state.
	CountByState(ctx context.Context) (map[models.VideoState]int64, error)
}

// VideoPathRow is a projection of (id, path) used by paged sweeps.
type VideoPathRow struct {
	ID   int64
	Path string
}

// VmafRepository defines operations for VMAF sample persistence.
type VmafRepository interface {
	// Upsert inserts the sample or updates the existing (video_id, crf) row.
	Upsert(ctx context.Context, vmaf *models.Vmaf) error
	// GetByVideo returns all samples for a video ordered by CRF.
	GetByVideo(ctx context.Context, videoID int64) ([]*models.Vmaf, error)
	// GetChosen returns the chosen sample for a video, nil if none.
	GetChosen(ctx context.Context, videoID int64) (*models.Vmaf, error)
	// SetChosen elects the sample: clears any prior chosen row for the video,
	// marks this one, and points the video's chosen_vmaf_id at it, all in one
	// transaction.
	SetChosen(ctx context.Context, videoID, vmafID int64) error
	// DeleteByVideo removes all samples for a video.
	DeleteByVideo(ctx context.Context, videoID int64) error
	// SiblingCandidates returns videos in the same directory subtree prefix
	// with identical width and height and a chosen sample, excluding the
	// given video. HDR-presence and season-folder filtering happen in the
	// caller.
	SiblingCandidates(ctx context.Context, video *models.Video) ([]SiblingSample, error)
}

// SiblingSample pairs a sibling video's attributes with its chosen sample.
type SiblingSample struct {
	VideoID int64
	Path    string
	HDR     *string
	CRF     float64
	Score   float64
}

// LibraryRepository defines operations for library persistence.
type LibraryRepository interface {
	// Create creates a new library.
	Create(ctx context.Context, library *models.Library) error
	// GetByID retrieves a library by ID. Returns nil when not found.
	GetByID(ctx context.Context, id int64) (*models.Library, error)
	// GetAll returns all libraries ordered by path length descending, so
	// prefix matching picks the longest match first.
	GetAll(ctx context.Context) ([]*models.Library, error)
	// Delete deletes a library by ID.
	Delete(ctx context.Context, id int64) error
}

// VideoFailureRepository defines operations for failure records.
type VideoFailureRepository interface {
	// Record appends the failure and transitions the video to failed in the
	// same transaction. A missing video records the failure alone.
	Record(ctx context.Context, failure *models.VideoFailure) error
	// RecordResolved appends an already-resolved, informational failure
	// without touching the video's state.
	RecordResolved(ctx context.Context, failure *models.VideoFailure) error
	// GetByVideo returns all failures for a video, newest first.
	GetByVideo(ctx context.Context, videoID int64) ([]*models.VideoFailure, error)
	// GetUnresolved returns all unresolved failures, newest first.
	GetUnresolved(ctx context.Context) ([]*models.VideoFailure, error)
	// Resolve marks a failure resolved.
	Resolve(ctx context.Context, id int64) error
	// DeleteUnresolvedByVideo removes unresolved failures for a video.
	DeleteUnresolvedByVideo(ctx context.Context, videoID int64) error
}
