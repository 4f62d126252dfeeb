package health

import (
	"cmp"
	"context"
	"encoding/json"
	"github.com/clambin/livisi-climate/internal/climate"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
)

type Publisher interface {
	Subscribe() chan climate.Thermostat
	Unsubscribe(chan climate.Thermostat)
}

type Coordinator interface {
	Updated() bool
	Refresh()
}

// Health reports the state of all climate entities. Until the coordinator has received the controller's devices,
// it reports the service as unavailable.
type Health struct {
	publisher   Publisher
	coordinator Coordinator
	logger      *slog.Logger
	lock        sync.RWMutex
	states      map[string]climate.State
}

func New(p Publisher, c Coordinator, logger *slog.Logger) *Health {
	return &Health{
		publisher:   p,
		coordinator: c,
		logger:      logger,
		states:      make(map[string]climate.State),
	}
}

func (h *Health) Run(ctx context.Context) error {
	h.logger.Debug("started")
	defer h.logger.Debug("stopped")

	ch := h.publisher.Subscribe()
	defer h.publisher.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			h.lock.Lock()
			if e.Attached() {
				h.states[e.UniqueID()] = e.State()
			} else {
				delete(h.states, e.UniqueID())
			}
			h.lock.Unlock()
		}
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if !h.coordinator.Updated() {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		h.coordinator.Refresh()
		return
	}

	h.lock.RLock()
	states := slices.SortedFunc(maps.Values(h.states), func(a, b climate.State) int {
		return cmp.Compare(a.Name, b.Name)
	})
	h.lock.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(states); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
