package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishToMatchingSubscribers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	encoderSub := bus.Subscribe(TopicEncoderProgress)
	allSub := bus.Subscribe()

	bus.Publish(TopicEncoderProgress, EncoderProgress{Filename: "a.mkv", Percent: 50})
	bus.Publish(TopicAnalyzerIdle, PipelineIdle{Pipeline: "analyzer"})

	event := <-encoderSub.Events
	assert.Equal(t, TopicEncoderProgress, event.Topic)
	payload, ok := event.Payload.(EncoderProgress)
	require.True(t, ok)
	assert.Equal(t, "a.mkv", payload.Filename)

	// The filtered subscriber never sees the idle event.
	select {
	case unexpected := <-encoderSub.Events:
		t.Fatalf("unexpected event: %v", unexpected.Topic)
	default:
	}

	// The unfiltered subscriber sees both.
	first := <-allSub.Events
	second := <-allSub.Events
	assert.Equal(t, TopicEncoderProgress, first.Topic)
	assert.Equal(t, TopicAnalyzerIdle, second.Topic)
}

func TestBus_EventsAreStamped(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(TopicVideoUpserted)
	bus.Publish(TopicVideoUpserted, MediaUpserted{ID: 7})

	event := <-sub.Events
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(TopicEncoderProgress)
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(TopicEncoderProgress, EncoderProgress{Percent: float64(i)})
	}

	assert.Equal(t, uint64(10), bus.Dropped())
	assert.Len(t, sub.Events, subscriberBuffer)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub.ID)

	_, open := <-sub.Events
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(TopicEncoderIdle, PipelineIdle{Pipeline: "encoder"})
}

func TestEncoderProgress_Merge(t *testing.T) {
	current := EncoderProgress{
		Filename:   "a.mkv",
		Percent:    40,
		FPS:        100,
		ETASeconds: 600,
		CPUPercent: 350,
		RSSBytes:   1 << 30,
	}

	merged := current.Merge(EncoderProgress{Percent: 45, FPS: 110})
	assert.Equal(t, "a.mkv", merged.Filename, "zero filename keeps current")
	assert.Equal(t, 45.0, merged.Percent)
	assert.Equal(t, 110.0, merged.FPS)
	assert.Equal(t, int64(600), merged.ETASeconds, "zero eta keeps current")
	assert.Equal(t, 350.0, merged.CPUPercent)

	// Percent zero is meaningful: a fresh encode resets it.
	reset := current.Merge(EncoderProgress{Filename: "b.mkv"})
	assert.Equal(t, 0.0, reset.Percent)
	assert.Equal(t, "b.mkv", reset.Filename)
}
