package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// subscriberBuffer is the per-subscriber channel depth. Slow subscribers
// drop events rather than stall publishers.
const subscriberBuffer = 100

// Subscriber receives events for its registered topics on Events.
type Subscriber struct {
	ID     string
	topics map[Topic]struct{}
	Events chan Event
}

// Wants reports whether the subscriber registered for the topic.
// A subscriber with no topics receives everything.
func (s *Subscriber) Wants(topic Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// Bus is the in-process publish/subscribe hub. Publishing never blocks:
// events to a full subscriber channel are dropped and counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// NewBus creates a new telemetry bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With("component", "event_bus"),
	}
}

// Subscribe registers a subscriber for the given topics. No topics means
// all topics. Close the subscription with Unsubscribe.
func (b *Bus) Subscribe(topics ...Topic) *Subscriber {
	sub := &Subscriber{
		ID:     ulid.Make().String(),
		topics: make(map[Topic]struct{}, len(topics)),
		Events: make(chan Event, subscriberBuffer),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "topics", len(topics))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(b.subscribers, subscriberID)
		b.logger.Debug("subscriber removed", "subscriber_id", subscriberID)
	}
}

// Publish delivers an event to every subscriber registered for its topic.
// Full subscriber channels drop the event.
func (b *Bus) Publish(topic Topic, payload any) {
	event := newEvent(topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.Wants(topic) {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber event channel full, dropping event",
				"subscriber_id", sub.ID,
				"topic", string(topic),
			)
		}
	}
}

// Dropped returns the number of events dropped due to full subscriber
// channels since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes everyone and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}
