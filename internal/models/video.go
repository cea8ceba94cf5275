package models

import (
	"path/filepath"
	"strconv"
)

// VideoState represents a video's position in the re-encode lifecycle.
type VideoState string

const (
	// VideoStateNeedsAnalysis indicates the video awaits mediainfo analysis.
	VideoStateNeedsAnalysis VideoState = "needs_analysis"
	// VideoStateAnalyzed indicates media attributes are populated.
	VideoStateAnalyzed VideoState = "analyzed"
	// VideoStateCrfSearching indicates a CRF search is in flight.
	VideoStateCrfSearching VideoState = "crf_searching"
	// VideoStateCrfSearched indicates a chosen VMAF sample exists.
	VideoStateCrfSearched VideoState = "crf_searched"
	// VideoStateEncoding indicates an encode is in flight.
	VideoStateEncoding VideoState = "encoding"
	// VideoStateEncoded indicates the original file has been replaced.
	VideoStateEncoded VideoState = "encoded"
	// VideoStateFailed is terminal until an operator bulk-resets.
	VideoStateFailed VideoState = "failed"
)

// ServiceType identifies which media-library service owns a video.
type ServiceType string

const (
	// ServiceTypeSonarr is the TV library service.
	ServiceTypeSonarr ServiceType = "sonarr"
	// ServiceTypeRadarr is the movie library service.
	ServiceTypeRadarr ServiceType = "radarr"
)

// Video is the central aggregate: one media file known to Sonarr or Radarr.
type Video struct {
	BaseModel

	// Path is the absolute path of the media file. Unique.
	Path string `gorm:"not null;uniqueIndex;size:4096" json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// Bitrate is the overall bitrate in bits per second. Zero until analyzed.
	Bitrate int64 `json:"bitrate"`

	// Duration is the runtime in seconds. Nil until analyzed.
	Duration *float64 `json:"duration,omitempty"`

	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`

	// VideoCodecs is the ordered list of video stream formats.
	VideoCodecs StringList `gorm:"type:text;serializer:json" json:"video_codecs"`

	// AudioCodecs is the ordered list of audio stream formats.
	AudioCodecs StringList `gorm:"type:text;serializer:json" json:"audio_codecs"`

	// MaxAudioChannels is the highest channel count across audio streams.
	MaxAudioChannels *int `json:"max_audio_channels,omitempty"`

	// Atmos reports whether any audio stream is Dolby Atmos.
	Atmos bool `json:"atmos"`

	// HDR is the HDR format tag. Non-nil means the video is HDR.
	HDR *string `json:"hdr,omitempty"`

	// ContentYear is the release year, from the service API or parsed
	// from the path.
	ContentYear *int `json:"content_year,omitempty"`

	// State is the position in the re-encode lifecycle.
	State VideoState `gorm:"not null;default:'needs_analysis';size:20;index;index:idx_videos_state_updated,priority:1" json:"state"`

	// StateUpdatedAt records when the state last changed and participates in
	// the composite index the pipeline producer queries use.
	StateUpdatedAt Time `gorm:"index:idx_videos_state_updated,priority:2" json:"state_updated_at"`

	// LibraryID references the longest-prefix matching Library, if any.
	LibraryID *int64 `gorm:"index" json:"library_id,omitempty"`

	// ServiceType is sonarr or radarr.
	ServiceType ServiceType `gorm:"size:10" json:"service_type"`

	// ServiceID is the opaque file identifier at the service.
	ServiceID string `gorm:"size:64" json:"service_id"`

	// ChosenVmafID references the elected Vmaf sample driving the encode.
	ChosenVmafID *int64 `json:"chosen_vmaf_id,omitempty"`

	// MediaInfo holds the raw mediainfo track data for the file.
	MediaInfo Map `gorm:"type:text;serializer:json" json:"mediainfo,omitempty"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// TempOutputName returns the temp-directory encode output filename for this
// video. The numeric-id convention lets the encode progress parser map
// "encoding 42.mkv" lines back to the video.
func (v *Video) TempOutputName() string {
	return strconv.FormatInt(v.ID, 10) + ".mkv"
}

// Basename returns the file's base name.
func (v *Video) Basename() string {
	return filepath.Base(v.Path)
}

// Analyzed reports whether the video carries the attributes analysis
// populates. Bitrate is the load-bearing field: ingestion creates videos
// with bitrate 0 and the analyzer must produce a positive value.
func (v *Video) Analyzed() bool {
	return v.Bitrate > 0 && v.Duration != nil && v.Width > 0 && v.Height > 0
}

// HasValidAudioMetadata reports whether audio attributes are usable for
// encoding argument construction. Atmos tracks are exempt because their
// channel layout is opaque to mediainfo.
func (v *Video) HasValidAudioMetadata() bool {
	if v.Atmos {
		return true
	}
	if len(v.AudioCodecs) == 0 {
		return false
	}
	return v.MaxAudioChannels != nil && *v.MaxAudioChannels > 0
}

// ResetMediaAttributes clears everything analysis populates, returning the
// video to its pre-analysis shape. Callers persist and transition to
// needs_analysis separately.
func (v *Video) ResetMediaAttributes() {
	v.Bitrate = 0
	v.Duration = nil
	v.Width = 0
	v.Height = 0
	v.FrameRate = 0
	v.VideoCodecs = nil
	v.AudioCodecs = nil
	v.MaxAudioChannels = nil
	v.Atmos = false
	v.HDR = nil
	v.MediaInfo = nil
	v.ChosenVmafID = nil
}

// IsHDR reports whether the video carries an HDR format tag.
func (v *Video) IsHDR() bool {
	return v.HDR != nil && *v.HDR != ""
}
