// Package pubsub provides a basic Publish/Subscribe implementation.
package pubsub

import (
	"log/slog"
	"sync"
)

// DefaultQueueSize is the number of values a subscriber can fall behind before Publish starts dropping values for it.
const DefaultQueueSize = 64

// Publisher allows clients to subscribe and sends them the information provided by Publish.
type Publisher[T any] struct {
	clients   map[chan T]struct{}
	queueSize int
	logger    *slog.Logger
	lock      sync.RWMutex
}

// New returns a new Publisher
func New[T any](logger *slog.Logger) *Publisher[T] {
	return NewWithQueueSize[T](DefaultQueueSize, logger)
}

// NewWithQueueSize returns a new Publisher whose subscriber channels buffer queueSize values.
func NewWithQueueSize[T any](queueSize int, logger *slog.Logger) *Publisher[T] {
	return &Publisher[T]{
		clients:   make(map[chan T]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers the caller and returns a new channel on which it will publish updates.
func (p *Publisher[T]) Subscribe() chan T {
	p.lock.Lock()
	defer p.lock.Unlock()
	ch := make(chan T, p.queueSize)
	p.clients[ch] = struct{}{}
	p.logger.Debug("subscriber added", slog.Int("subscribers", len(p.clients)))
	return ch
}

// Unsubscribe removes the registered client/channel.
func (p *Publisher[T]) Unsubscribe(ch chan T) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.clients, ch)
	p.logger.Debug("subscriber removed", slog.Int("subscribers", len(p.clients)))
}

// Publish sends info to all registered clients. Publish never blocks: if a client's queue is full, info is dropped
// for that client.
func (p *Publisher[T]) Publish(info T) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for ch := range p.clients {
		select {
		case ch <- info:
		default:
			p.logger.Warn("subscriber queue full. dropping update")
		}
	}
}

// Subscribers returns the current number of subscribers
func (p *Publisher[T]) Subscribers() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.clients)
}
