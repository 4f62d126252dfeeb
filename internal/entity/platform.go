package entity

import (
	"cmp"
	"context"
	"github.com/clambin/livisi-climate/pkg/pubsub"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Platform keeps track of added entities and publishes an entity every time it writes its state. A removed entity
// is published one last time, with Attached returning false, so subscribers can drop it.
type Platform[E Entity] struct {
	*pubsub.Publisher[E]
	logger   *slog.Logger
	lock     sync.RWMutex
	entities map[string]E
}

func NewPlatform[E Entity](logger *slog.Logger) *Platform[E] {
	return &Platform[E]{
		Publisher: pubsub.New[E](logger.With("component", "publisher")),
		logger:    logger,
		entities:  make(map[string]E),
	}
}

// AddEntities adds the entities to the Platform. Entities that are already present, or whose Added call fails,
// are skipped.
func (p *Platform[E]) AddEntities(ctx context.Context, entities ...E) {
	for _, e := range entities {
		if _, ok := p.Entity(e.UniqueID()); ok {
			p.logger.Warn("entity already added. skipping", "id", e.UniqueID(), "name", e.Name())
			continue
		}
		if err := e.Added(ctx); err != nil {
			p.logger.Error("failed to add entity", "id", e.UniqueID(), "name", e.Name(), "err", err)
			e.base().remove()
			continue
		}

		p.lock.Lock()
		p.entities[e.UniqueID()] = e
		p.lock.Unlock()

		e.base().attach(func() { p.Publish(e) })
		p.logger.Debug("entity added", "id", e.UniqueID(), "name", e.Name())
		e.base().WriteState()
	}
}

// Entity returns the entity with the provided unique ID.
func (p *Platform[E]) Entity(uniqueID string) (E, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	e, ok := p.entities[uniqueID]
	return e, ok
}

// Entities returns all entities, sorted by name.
func (p *Platform[E]) Entities() []E {
	p.lock.RLock()
	defer p.lock.RUnlock()
	entities := slices.Collect(maps.Values(p.entities))
	slices.SortFunc(entities, func(a, b E) int {
		return cmp.Or(cmp.Compare(a.Name(), b.Name()), cmp.Compare(a.UniqueID(), b.UniqueID()))
	})
	return entities
}

// Remove removes the entity with the provided unique ID and runs its remove callbacks.
func (p *Platform[E]) Remove(uniqueID string) {
	p.lock.Lock()
	e, ok := p.entities[uniqueID]
	delete(p.entities, uniqueID)
	p.lock.Unlock()

	if ok {
		e.base().remove()
		p.Publish(e)
		p.logger.Debug("entity removed", "id", uniqueID)
	}
}

// WriteStates publishes the state of all entities.
func (p *Platform[E]) WriteStates() {
	for _, e := range p.Entities() {
		e.base().WriteState()
	}
}

// RemoveAll removes all entities.
func (p *Platform[E]) RemoveAll() {
	for _, e := range p.Entities() {
		p.Remove(e.UniqueID())
	}
}
