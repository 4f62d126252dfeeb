package pubsub

import (
	"github.com/stretchr/testify/assert"
	"log/slog"
	"sync"
	"testing"
)

func TestPublisher(t *testing.T) {
	p := New[int](slog.New(slog.DiscardHandler))

	const clients = 10
	var chs []chan int
	for range clients {
		chs = append(chs, p.Subscribe())
	}
	assert.Equal(t, clients, p.Subscribers())

	go p.Publish(123)

	var wg sync.WaitGroup
	wg.Add(len(chs))

	for _, ch := range chs {
		go func(ch chan int) {
			defer wg.Done()
			assert.Equal(t, 123, <-ch)

			p.Unsubscribe(ch)
		}(ch)
	}

	wg.Wait()
	assert.Zero(t, p.Subscribers())
}

func TestPublisher_Queue(t *testing.T) {
	p := NewWithQueueSize[string](2, slog.New(slog.DiscardHandler))
	ch := p.Subscribe()

	// doesn't block while the queue has room
	p.Publish("foo")
	p.Publish("bar")

	assert.Equal(t, "foo", <-ch)
	assert.Equal(t, "bar", <-ch)
}

func TestPublisher_QueueFull(t *testing.T) {
	p := NewWithQueueSize[string](1, slog.New(slog.DiscardHandler))
	ch := p.Subscribe()

	p.Publish("foo")
	p.Publish("bar")

	assert.Equal(t, "foo", <-ch)
	assert.Empty(t, ch)

	// a subscriber that stopped reading can still unsubscribe
	p.Publish("snafu")
	p.Publish("snafu")
	p.Unsubscribe(ch)
	assert.Zero(t, p.Subscribers())
}
