package climate

import (
	"context"
	"github.com/clambin/go-common/set"
	"github.com/clambin/livisi-climate/internal/entity"
	"log/slog"
	"sync"
)

// Setup adds a Climate to the platform for each new VRCC device the coordinator reports. Devices are only added once.
// On every refresh, the platform publishes the state of all climates it already holds.
// Unloading the entry stops discovery and removes all entities from the platform.
func Setup(ctx context.Context, entry *entity.ConfigEntry, c Coordinator, bus Bus, platform *entity.Platform[Thermostat], logger *slog.Logger) {
	d := discovery{
		coordinator: c,
		bus:         bus,
		platform:    platform,
		logger:      logger,
		known:       set.New[string](),
	}
	entry.OnUnload(platform.RemoveAll)
	entry.OnUnload(c.AddListener(platform.WriteStates))
	entry.OnUnload(c.AddListener(func() { d.discover(ctx) }))

	if len(c.Data()) > 0 {
		d.discover(ctx)
	}
}

type discovery struct {
	coordinator Coordinator
	bus         Bus
	platform    *entity.Platform[Thermostat]
	logger      *slog.Logger
	lock        sync.Mutex
	known       set.Set[string]
}

func (d *discovery) discover(ctx context.Context) {
	d.lock.Lock()
	defer d.lock.Unlock()

	var entities []Thermostat
	for _, device := range d.coordinator.Data() {
		if !DeviceTypes.Contains(device.Type) || d.known.Contains(device.ID) {
			continue
		}
		c, err := New(device, d.coordinator, d.bus, d.logger.With("component", "climate"))
		if err != nil {
			d.logger.Error("skipping device", "device", device, "err", err)
			continue
		}
		d.known.Add(device.ID)
		d.coordinator.RegisterDevice(device.ID)
		d.logger.Debug("climate device found", "type", device.Type, "id", device.ID)
		entities = append(entities, c)
	}
	if len(entities) > 0 {
		d.platform.AddEntities(ctx, entities...)
	}
}
