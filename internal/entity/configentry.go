package entity

import "sync"

// ConfigEntry owns the resources set up for one controller. Unloading the entry releases them.
type ConfigEntry struct {
	ID       string
	lock     sync.Mutex
	onUnload []func()
}

func NewConfigEntry(id string) *ConfigEntry {
	return &ConfigEntry{ID: id}
}

// OnUnload registers f to be called when the entry is unloaded.
func (e *ConfigEntry) OnUnload(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.onUnload = append(e.onUnload, f)
}

// Unload calls the registered callbacks, most recent first. Calling Unload more than once has no effect.
func (e *ConfigEntry) Unload() {
	e.lock.Lock()
	callbacks := e.onUnload
	e.onUnload = nil
	e.lock.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
}
