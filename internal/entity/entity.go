// Package entity models the lifecycle of the entities exposed by this service: entities are added to a Platform,
// write their state to it when it changes and are removed when their ConfigEntry is unloaded.
package entity

import (
	"context"
	"sync"
)

// Entity is an object managed by a Platform. Implementations embed a *Base.
type Entity interface {
	UniqueID() string
	Name() string
	Available() bool
	// Attached reports whether the entity is currently added to a Platform.
	Attached() bool
	// Added is called when the entity is added to the Platform. If it returns an error, the entity is removed again.
	Added(ctx context.Context) error
	base() *Base
}

// Base holds the state shared by all entities.
type Base struct {
	uniqueID  string
	name      string
	lock      sync.RWMutex
	available bool
	onRemove  []func()
	write     func()
}

func NewBase(uniqueID, name string) *Base {
	return &Base{uniqueID: uniqueID, name: name}
}

func (b *Base) UniqueID() string {
	return b.uniqueID
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Available() bool {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.available
}

// UpdateReachability sets the entity's availability and writes its state.
func (b *Base) UpdateReachability(available bool) {
	b.lock.Lock()
	b.available = available
	b.lock.Unlock()
	b.WriteState()
}

// OnRemove registers f to be called when the entity is removed from its Platform.
func (b *Base) OnRemove(f func()) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.onRemove = append(b.onRemove, f)
}

// WriteState tells the Platform that the entity's state has changed. It does nothing until the entity has been added.
func (b *Base) WriteState() {
	b.lock.RLock()
	write := b.write
	b.lock.RUnlock()
	if write != nil {
		write()
	}
}

func (b *Base) Attached() bool {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.write != nil
}

func (b *Base) base() *Base {
	return b
}

func (b *Base) attach(write func()) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.write = write
}

// remove detaches the entity from its platform and runs the remove callbacks, most recent first.
func (b *Base) remove() {
	b.lock.Lock()
	callbacks := b.onRemove
	b.onRemove = nil
	b.write = nil
	b.lock.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
}

// UserError is an error whose message can be shown to the user as-is.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}
