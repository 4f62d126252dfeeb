// Package dispatch provides a topic-based publish/subscribe bus, used to fan out controller state changes
// to the entities that care about them.
package dispatch

import (
	"log/slog"
	"sync"
)

const (
	// StateChangePrefix is the prefix of topics carrying a capability's new state value.
	StateChangePrefix = "livisi_state_change"
	// ReachabilityChangePrefix is the prefix of topics carrying a device's reachability.
	ReachabilityChangePrefix = "livisi_reachability_change"
)

// StateChangeTopic returns the topic on which state changes for a capability are sent.
func StateChangeTopic(capabilityID string) string {
	return StateChangePrefix + "_" + capabilityID
}

// ReachabilityTopic returns the topic on which reachability changes for a device are sent.
func ReachabilityTopic(deviceID string) string {
	return ReachabilityChangePrefix + "_" + deviceID
}

// Bus delivers values sent on a topic to all callbacks connected to that topic.
type Bus struct {
	logger      *slog.Logger
	lock        sync.RWMutex
	subscribers map[string]map[int]func(any)
	nextID      int
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:      logger,
		subscribers: make(map[string]map[int]func(any)),
	}
}

// Connect registers f for topic. The returned function disconnects f again and may be called more than once.
func (b *Bus) Connect(topic string, f func(any)) func() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]func(any))
	}
	id := b.nextID
	b.nextID++
	b.subscribers[topic][id] = f
	b.logger.Debug("subscriber connected", "topic", topic)

	return func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		callbacks, ok := b.subscribers[topic]
		if !ok {
			return
		}
		if _, ok = callbacks[id]; !ok {
			return
		}
		delete(callbacks, id)
		if len(callbacks) == 0 {
			delete(b.subscribers, topic)
		}
		b.logger.Debug("subscriber disconnected", "topic", topic)
	}
}

// Send calls all callbacks connected to topic with value. Callbacks run in the caller's goroutine
// and may connect or disconnect other callbacks.
func (b *Bus) Send(topic string, value any) {
	b.lock.RLock()
	callbacks := make([]func(any), 0, len(b.subscribers[topic]))
	for _, f := range b.subscribers[topic] {
		callbacks = append(callbacks, f)
	}
	b.lock.RUnlock()

	for _, f := range callbacks {
		f(value)
	}
}

// Subscribers returns the number of callbacks connected to topic.
func (b *Bus) Subscribers(topic string) int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.subscribers[topic])
}
