package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
)

func TestProducer_ProcessesFIFO(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var processed []int
	work := []int{1, 2, 3}
	done := make(chan struct{})

	producer := NewProducer(
		"test",
		10,
		config.RateConfig{Messages: 100, Interval: time.Second},
		bus,
		events.TopicAnalyzerIdle,
		nil,
		func(_ context.Context, _ int) ([]int, error) {
			mu.Lock()
			defer mu.Unlock()
			out := work
			work = nil
			return out, nil
		},
		func(_ context.Context, item int) {
			mu.Lock()
			processed = append(processed, item)
			if len(processed) == 3 {
				close(done)
			}
			mu.Unlock()
		},
		func(item int) string { return "item" },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producer.Start(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("items were not processed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, processed)
}

func TestProducer_PublishesQueueUpdateAndIdle(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(events.TopicQueueUpdate, events.TopicAnalyzerIdle)

	refills := 0
	producer := NewProducer(
		"analyzer",
		10,
		config.RateConfig{Messages: 100, Interval: time.Second},
		bus,
		events.TopicAnalyzerIdle,
		nil,
		func(_ context.Context, _ int) ([]string, error) {
			refills++
			if refills == 1 {
				return []string{"/a.mkv", "/b.mkv"}, nil
			}
			return nil, nil
		},
		func(_ context.Context, _ string) {},
		func(item string) string { return item },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producer.Start(ctx)

	var sawQueueUpdate, sawIdle bool
	timeout := time.After(5 * time.Second)
	for !(sawQueueUpdate && sawIdle) {
		select {
		case event := <-sub.Events:
			switch event.Topic {
			case events.TopicQueueUpdate:
				payload, ok := event.Payload.(events.QueueUpdate)
				require.True(t, ok)
				assert.Equal(t, "analyzer", payload.Pipeline)
				assert.Equal(t, 2, payload.QueueSize)
				assert.Equal(t, []string{"/a.mkv", "/b.mkv"}, payload.NextVideos)
				sawQueueUpdate = true
			case events.TopicAnalyzerIdle:
				sawIdle = true
			}
		case <-timeout:
			t.Fatal("expected queue update and idle events")
		}
	}
}

func TestProducer_DispatchCoalesces(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	producer := NewProducer(
		"test",
		10,
		config.RateConfig{Messages: 1, Interval: time.Millisecond},
		bus,
		events.TopicEncoderIdle,
		nil,
		func(_ context.Context, _ int) ([]int, error) { return nil, nil },
		func(_ context.Context, _ int) {},
		func(int) string { return "" },
	)

	// Many signals collapse into one pending dispatch without blocking.
	for i := 0; i < 100; i++ {
		producer.DispatchAvailable()
	}
	assert.Equal(t, 0, producer.QueueSize())
}
