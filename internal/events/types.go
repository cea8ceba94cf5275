// Package events provides the in-process telemetry bus for reencodarr.
// Pipelines publish progress and state-change events; subscribers (a
// dashboard, tests, log sinks) consume them without being collaborators.
package events

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// Topic names an event stream subscribers can register for.
type Topic string

// Topics published by the core.
const (
	TopicVideoStateChanged Topic = "video_state_changed"

	TopicAnalyzerStarted   Topic = "analyzer:started"
	TopicAnalyzerPaused    Topic = "analyzer:paused"
	TopicAnalyzerProgress  Topic = "analyzer:progress"
	TopicAnalyzerCompleted Topic = "analyzer:completed"
	TopicAnalyzerIdle      Topic = "analyzer:idle"

	TopicCrfSearcherStarted   Topic = "crf_searcher:started"
	TopicCrfSearcherPaused    Topic = "crf_searcher:paused"
	TopicCrfSearcherProgress  Topic = "crf_searcher:progress"
	TopicCrfSearcherCompleted Topic = "crf_searcher:completed"
	TopicCrfSearcherIdle      Topic = "crf_searcher:idle"

	TopicEncoderStarted   Topic = "encoder:started"
	TopicEncoderProgress  Topic = "encoder:progress"
	TopicEncoderCompleted Topic = "encoder:completed"
	TopicEncoderFailed    Topic = "encoder:failed"
	TopicEncoderIdle      Topic = "encoder:idle"

	TopicSyncStarted   Topic = "sync:started"
	TopicSyncProgress  Topic = "sync:progress"
	TopicSyncCompleted Topic = "sync:completed"

	TopicVideoUpserted Topic = "media:video_upserted"
	TopicVmafUpserted  Topic = "media:vmaf_upserted"

	TopicQueueUpdate Topic = "queue_update"
)

// Event is one published message: a topic, a monotonic ULID, and a payload
// of one of the types below.
type Event struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// newEvent stamps an event with a fresh ULID and timestamp.
func newEvent(topic Topic, payload any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// VideoStateChanged carries a state machine transition.
type VideoStateChanged struct {
	Video         *models.Video     `json:"video"`
	PreviousState models.VideoState `json:"previous_state"`
	NewState      models.VideoState `json:"new_state"`
}

// QueueUpdate carries a producer's queue size and next-item preview after a
// refill.
type QueueUpdate struct {
	Pipeline   string   `json:"pipeline"`
	QueueSize  int      `json:"queue_size"`
	NextVideos []string `json:"next_videos"`
}

// AnalyzerProgress carries analyzer batch telemetry.
type AnalyzerProgress struct {
	BatchSize  int     `json:"batch_size"`
	Throughput float64 `json:"throughput"` // videos per second, rolling average
	QueueSize  int     `json:"queue_size"`
	Percent    float64 `json:"percent"`
}

// CrfSearchProgress carries one crf-search sample observation.
type CrfSearchProgress struct {
	Filename string  `json:"filename"`
	Percent  float64 `json:"percent"`
	CRF      float64 `json:"crf"`
	Score    float64 `json:"score"`
}

// EncoderProgress carries encode progress telemetry.
type EncoderProgress struct {
	Filename   string  `json:"filename"`
	Percent    float64 `json:"percent"`
	FPS        float64 `json:"fps"`
	ETASeconds int64   `json:"eta_seconds"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
}

// Merge folds an incoming progress update into the current one, keeping
// current values where the incoming field is the zero value. Percent is
// exempt: zero percent is a meaningful reset at encode start.
func (p EncoderProgress) Merge(incoming EncoderProgress) EncoderProgress {
	out := p
	if incoming.Filename != "" {
		out.Filename = incoming.Filename
	}
	out.Percent = incoming.Percent
	if incoming.FPS != 0 {
		out.FPS = incoming.FPS
	}
	if incoming.ETASeconds != 0 {
		out.ETASeconds = incoming.ETASeconds
	}
	if incoming.CPUPercent != 0 {
		out.CPUPercent = incoming.CPUPercent
	}
	if incoming.RSSBytes != 0 {
		out.RSSBytes = incoming.RSSBytes
	}
	return out
}

// SyncProgress carries external service sync telemetry.
type SyncProgress struct {
	ServiceType models.ServiceType `json:"service_type"`
	Progress    int                `json:"progress"` // 0-100
}

// MediaUpserted carries the id of an upserted entity.
type MediaUpserted struct {
	ID int64 `json:"id"`
}

// PipelineIdle signals a producer refill that yielded nothing.
type PipelineIdle struct {
	Pipeline string `json:"pipeline"`
}
