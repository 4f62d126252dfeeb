// Package coordinator keeps track of the devices known to the SmartHome Controller and forwards the
// controller's state changes to the dispatch bus.
package coordinator

import (
	"context"
	"github.com/clambin/go-common/set"
	"github.com/clambin/livisi-climate/internal/dispatch"
	"github.com/clambin/livisi-climate/internal/livisi"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Client is the SmartHome Controller API used by the Coordinator and the entities it serves.
type Client interface {
	Controller(ctx context.Context) (livisi.ControllerInfo, error)
	IsV2() bool
	GetDevices(ctx context.Context) ([]livisi.Device, error)
	GetDeviceState(ctx context.Context, capabilityID string, field string) (any, error)
	SetState(ctx context.Context, capabilityID string, field string, value any) (bool, error)
	Events(ctx context.Context, handle func(livisi.Event)) error
}

type Dispatcher interface {
	Send(topic string, value any)
}

// Coordinator polls the controller for its devices and notifies listeners after each successful poll.
type Coordinator struct {
	client    Client
	bus       Dispatcher
	interval  time.Duration
	reconnect time.Duration
	logger    *slog.Logger
	refresh   chan struct{}
	lock      sync.RWMutex
	data      []livisi.Device
	updated   bool
	devices   set.Set[string]
	listeners map[int]func()
	nextID    int
}

func New(client Client, bus Dispatcher, interval, reconnect time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		client:    client,
		bus:       bus,
		interval:  interval,
		reconnect: reconnect,
		logger:    logger,
		refresh:   make(chan struct{}, 1),
		devices:   set.New[string](),
		listeners: make(map[int]func()),
	}
}

// Run polls the controller and listens to its event stream until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Debug("started", slog.Duration("interval", c.interval))
	defer c.logger.Debug("stopped")

	var g errgroup.Group
	g.Go(func() error { return c.poll(ctx) })
	g.Go(func() error { return c.listen(ctx) })
	return g.Wait()
}

func (c *Coordinator) poll(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.update(ctx); err != nil {
			c.logger.Error("failed to get devices", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-c.refresh:
		}
	}
}

func (c *Coordinator) update(ctx context.Context) error {
	start := time.Now()
	if _, err := c.client.Controller(ctx); err != nil {
		return err
	}
	devices, err := c.client.GetDevices(ctx)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.data = devices
	c.updated = true
	c.lock.Unlock()
	c.logger.Debug("poll completed", slog.Int("devices", len(devices)), slog.Duration("duration", time.Since(start)))

	c.notify()
	return nil
}

func (c *Coordinator) notify() {
	c.lock.RLock()
	listeners := make([]func(), 0, len(c.listeners))
	for _, id := range slices.Sorted(maps.Keys(c.listeners)) {
		listeners = append(listeners, c.listeners[id])
	}
	c.lock.RUnlock()

	for _, l := range listeners {
		l()
	}
}

func (c *Coordinator) listen(ctx context.Context) error {
	for {
		err := c.client.Events(ctx, c.dispatch)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("event stream lost. reconnecting", slog.Any("err", err), slog.Duration("delay", c.reconnect))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Coordinator) dispatch(event livisi.Event) {
	if event.Type != livisi.EventStateChanged {
		return
	}
	if capabilityID, ok := event.CapabilityID(); ok {
		if value, ok := event.Properties.Value(); ok {
			c.bus.Send(dispatch.StateChangeTopic(capabilityID), value)
		}
		return
	}
	if deviceID, ok := event.DeviceID(); ok {
		if reachable, ok := event.Properties.Reachable(); ok {
			c.bus.Send(dispatch.ReachabilityTopic(deviceID), reachable)
		}
	}
}

// Refresh requests an immediate poll. It doesn't wait for the poll to happen.
func (c *Coordinator) Refresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Data returns the devices found during the last successful poll.
func (c *Coordinator) Data() []livisi.Device {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.data
}

// Updated returns true once the first poll has succeeded.
func (c *Coordinator) Updated() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.updated
}

// AddListener registers f to be called after each successful poll. The returned function removes the listener.
func (c *Coordinator) AddListener(f func()) func() {
	c.lock.Lock()
	defer c.lock.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = f
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		delete(c.listeners, id)
	}
}

// RegisterDevice records that an entity has been created for a device.
func (c *Coordinator) RegisterDevice(deviceID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.devices.Add(deviceID)
}

// Devices returns the IDs of all devices with an entity, sorted.
func (c *Coordinator) Devices() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	devices := c.devices.List()
	slices.Sort(devices)
	return devices
}

// Client returns the SmartHome Controller API client.
func (c *Coordinator) Client() Client {
	return c.client
}

// IsV2 returns true if the controller speaks the v2 API.
func (c *Coordinator) IsV2() bool {
	return c.client.IsV2()
}
