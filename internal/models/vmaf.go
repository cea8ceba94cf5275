package models

// Vmaf is one CRF/VMAF sample produced by a crf-search run.
// One row exists per (video_id, crf); repeated samples upsert.
type Vmaf struct {
	BaseModel

	// VideoID references the sampled video.
	VideoID int64 `gorm:"not null;uniqueIndex:idx_vmafs_video_crf,priority:1;index" json:"video_id"`

	// CRF is the constant rate factor the sample was encoded at.
	CRF float64 `gorm:"not null;uniqueIndex:idx_vmafs_video_crf,priority:2" json:"crf"`

	// Score is the VMAF score (0-100).
	Score float64 `json:"score"`

	// Percent is the predicted output size as a percentage of the input.
	Percent float64 `json:"percent"`

	// Size is the predicted output size in bytes, when reported.
	Size *int64 `json:"size,omitempty"`

	// Time is the predicted encode duration in seconds, when reported.
	Time *int64 `json:"time,omitempty"`

	// Savings is input_size * (100 - percent) / 100, in bytes.
	Savings *int64 `json:"savings,omitempty"`

	// Chosen marks the single elected sample driving the encode.
	// A partial unique index on (video_id) where chosen guarantees at most
	// one chosen row per video at the database level.
	Chosen bool `gorm:"not null;default:false;index" json:"chosen"`

	// Params is the argv fragment the sample was computed with, sans
	// subcommand and CRF bound flags. Replayed as overrides at encode time.
	Params StringList `gorm:"type:text;serializer:json" json:"params"`
}

// TableName returns the table name for Vmaf.
func (Vmaf) TableName() string {
	return "vmafs"
}

// ComputeSavings derives Savings from the input file size and Percent when
// Savings is not already set. Size is not consulted.
func (m *Vmaf) ComputeSavings(inputSize int64) {
	if m.Savings != nil || inputSize <= 0 || m.Percent <= 0 {
		return
	}
	savings := int64(float64(inputSize) * (100 - m.Percent) / 100)
	if savings < 0 {
		savings = 0
	}
	m.Savings = &savings
}
