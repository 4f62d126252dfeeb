// Package climate exposes a LIVISI virtual room climate control (VRCC) as a climate entity.
package climate

import (
	"context"
	"errors"
	"fmt"
	"github.com/clambin/go-common/set"
	"github.com/clambin/livisi-climate/internal/coordinator"
	"github.com/clambin/livisi-climate/internal/dispatch"
	"github.com/clambin/livisi-climate/internal/entity"
	"github.com/clambin/livisi-climate/internal/livisi"
	"log/slog"
	"sync"
)

const (
	DefaultMinTemperature = 6.0
	DefaultMaxTemperature = 30.0
)

const (
	capabilitySetpoint    = "RoomSetpoint"
	capabilityTemperature = "RoomTemperature"
	capabilityHumidity    = "RoomHumidity"
)

// DeviceTypes are the device types handled by this package.
var DeviceTypes = set.New("VRCC")

var ErrMissingCapability = errors.New("missing capability")

type HVACMode string

const HVACModeHeat HVACMode = "heat"

type HVACAction string

const (
	HVACActionOff     HVACAction = "off"
	HVACActionHeating HVACAction = "heating"
	HVACActionIdle    HVACAction = "idle"
)

// Coordinator is the part of the coordinator used by climate entities and their setup.
type Coordinator interface {
	Data() []livisi.Device
	RegisterDevice(deviceID string)
	AddListener(f func()) func()
	Client() coordinator.Client
	IsV2() bool
}

type Bus interface {
	Connect(topic string, f func(any)) func()
}

// Thermostat is a climate entity, as seen by the surfaces that expose it.
type Thermostat interface {
	entity.Entity
	State() State
	SetTemperature(ctx context.Context, cmd SetTemperatureCommand) error
}

// SetTemperatureCommand sets a climate's target temperature, in degrees Celsius.
type SetTemperatureCommand struct {
	Temperature float64
}

// State is a snapshot of a climate's state.
type State struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	TargetTemperature  *float64   `json:"target_temperature,omitempty"`
	CurrentTemperature *float64   `json:"current_temperature,omitempty"`
	Humidity           *int       `json:"humidity,omitempty"`
	MinTemperature     float64    `json:"min_temp"`
	MaxTemperature     float64    `json:"max_temp"`
	HVACMode           HVACMode   `json:"hvac_mode"`
	HVACAction         HVACAction `json:"hvac_action"`
	Available          bool       `json:"available"`
}

var _ Thermostat = &Climate{}

// Climate is the climate entity for one VRCC device.
type Climate struct {
	*entity.Base
	deviceID              string
	setpointCapability    string
	temperatureCapability string
	humidityCapability    string
	minTemperature        float64
	maxTemperature        float64
	coordinator           Coordinator
	bus                   Bus
	logger                *slog.Logger
	lock                  sync.RWMutex
	targetTemperature     *float64
	currentTemperature    *float64
	humidity              *int
	reachable             bool
}

// New creates a Climate for the device. It returns ErrMissingCapability if the device lacks one of the
// setpoint, temperature or humidity capabilities.
func New(device livisi.Device, c Coordinator, bus Bus, logger *slog.Logger) (*Climate, error) {
	capabilities := make(map[string]string, 3)
	for _, name := range []string{capabilitySetpoint, capabilityTemperature, capabilityHumidity} {
		id, ok := device.Capabilities[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w %s", device.ID, ErrMissingCapability, name)
		}
		capabilities[name] = id
	}

	name := device.Room
	if name == "" {
		name = device.Name
	}

	config := device.CapabilityConfig[capabilitySetpoint]
	return &Climate{
		Base:                  entity.NewBase(device.ID, name),
		deviceID:              device.ID,
		setpointCapability:    capabilities[capabilitySetpoint],
		temperatureCapability: capabilities[capabilityTemperature],
		humidityCapability:    capabilities[capabilityHumidity],
		minTemperature:        configValue(config, "minTemperature", DefaultMinTemperature),
		maxTemperature:        configValue(config, "maxTemperature", DefaultMaxTemperature),
		coordinator:           c,
		bus:                   bus,
		logger:                logger.With("id", device.ID, "name", name),
	}, nil
}

func configValue(config map[string]any, key string, fallback float64) float64 {
	if value, ok := toFloat(config[key]); ok {
		return value
	}
	return fallback
}

// Added reads the climate's current state from the controller and subscribes to its state changes.
func (c *Climate) Added(ctx context.Context) error {
	client := c.coordinator.Client()
	field := targetTemperatureField(c.coordinator.IsV2())

	target := c.read(ctx, client, c.setpointCapability, field)
	current := c.read(ctx, client, c.temperatureCapability, "temperature")
	humidity := c.read(ctx, client, c.humidityCapability, "humidity")

	currentTemperature, ok := toFloat(current)
	c.lock.Lock()
	if !ok {
		c.currentTemperature = nil
	} else {
		c.targetTemperature = floatOrNil(target)
		c.currentTemperature = &currentTemperature
		c.humidity = intOrNil(humidity)
	}
	c.lock.Unlock()
	c.setReachable(true)

	c.OnRemove(c.bus.Connect(dispatch.StateChangeTopic(c.setpointCapability), c.updateTargetTemperature))
	c.OnRemove(c.bus.Connect(dispatch.StateChangeTopic(c.temperatureCapability), c.updateTemperature))
	c.OnRemove(c.bus.Connect(dispatch.StateChangeTopic(c.humidityCapability), c.updateHumidity))
	c.OnRemove(c.bus.Connect(dispatch.ReachabilityTopic(c.deviceID), c.updateReachability))
	return nil
}

func (c *Climate) read(ctx context.Context, client coordinator.Client, capabilityID, field string) any {
	value, err := client.GetDeviceState(ctx, capabilityID, field)
	if err != nil {
		c.logger.Warn("failed to read state", "capability", capabilityID, "field", field, "err", err)
		return nil
	}
	return value
}

// SetTemperature sets the climate's target temperature. On failure, it returns an *entity.UserError.
func (c *Climate) SetTemperature(ctx context.Context, cmd SetTemperatureCommand) error {
	field := targetTemperatureField(c.coordinator.IsV2())
	ok, err := c.coordinator.Client().SetState(ctx, c.setpointCapability, field, cmd.Temperature)
	if err == nil && !ok {
		err = errors.New("controller rejected the request")
	}
	if err != nil {
		c.setReachable(false)
		return &entity.UserError{Message: "Failed to set temperature on " + c.Name(), Err: err}
	}
	c.setReachable(true)
	return nil
}

// setReachable records whether the device can be reached. The climate is only available while the device is
// reachable and its current temperature is known.
func (c *Climate) setReachable(reachable bool) {
	c.lock.Lock()
	c.reachable = reachable
	available := reachable && c.currentTemperature != nil
	c.lock.Unlock()
	c.UpdateReachability(available)
}

// SetHVACMode does nothing: LIVISI devices don't support changing the HVAC mode.
func (c *Climate) SetHVACMode(HVACMode) {}

// HVACModes returns the HVAC modes that can be set. There are none.
func (c *Climate) HVACModes() []HVACMode {
	return []HVACMode{}
}

func (c *Climate) HVACMode() HVACMode {
	return HVACModeHeat
}

func (c *Climate) HVACAction() HVACAction {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return hvacAction(c.currentTemperature, c.targetTemperature, c.minTemperature)
}

func hvacAction(current, target *float64, minTemperature float64) HVACAction {
	if current == nil || target == nil {
		return HVACActionOff
	}
	if *target > *current {
		return HVACActionHeating
	}
	// a setpoint at the minimum means the room has been turned down
	if *target == minTemperature {
		return HVACActionOff
	}
	return HVACActionIdle
}

func (c *Climate) TargetTemperature() *float64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.targetTemperature
}

func (c *Climate) CurrentTemperature() *float64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.currentTemperature
}

func (c *Climate) Humidity() *int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.humidity
}

func (c *Climate) MinTemperature() float64 {
	return c.minTemperature
}

func (c *Climate) MaxTemperature() float64 {
	return c.maxTemperature
}

func (c *Climate) State() State {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return State{
		ID:                 c.UniqueID(),
		Name:               c.Name(),
		TargetTemperature:  c.targetTemperature,
		CurrentTemperature: c.currentTemperature,
		Humidity:           c.humidity,
		MinTemperature:     c.minTemperature,
		MaxTemperature:     c.maxTemperature,
		HVACMode:           HVACModeHeat,
		HVACAction:         hvacAction(c.currentTemperature, c.targetTemperature, c.minTemperature),
		Available:          c.Available(),
	}
}

func (c *Climate) updateTargetTemperature(value any) {
	v, ok := toFloat(value)
	if !ok {
		c.logger.Warn("invalid target temperature received", "value", value)
		return
	}
	c.lock.Lock()
	c.targetTemperature = &v
	c.lock.Unlock()
	c.WriteState()
}

// updateTemperature also re-evaluates availability: a climate whose temperature was unknown becomes available
// once a temperature arrives.
func (c *Climate) updateTemperature(value any) {
	v, ok := toFloat(value)
	if !ok {
		c.logger.Warn("invalid temperature received", "value", value)
		return
	}
	c.lock.Lock()
	c.currentTemperature = &v
	reachable := c.reachable
	c.lock.Unlock()
	c.setReachable(reachable)
}

func (c *Climate) updateHumidity(value any) {
	v, ok := toInt(value)
	if !ok {
		c.logger.Warn("invalid humidity received", "value", value)
		return
	}
	c.lock.Lock()
	c.humidity = &v
	c.lock.Unlock()
	c.WriteState()
}

func (c *Climate) updateReachability(value any) {
	if reachable, ok := value.(bool); ok {
		c.setReachable(reachable)
	}
}

func targetTemperatureField(isV2 bool) string {
	if isV2 {
		return "setpointTemperature"
	}
	return "pointTemperature"
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

func floatOrNil(value any) *float64 {
	if v, ok := toFloat(value); ok {
		return &v
	}
	return nil
}

func intOrNil(value any) *int {
	if v, ok := toInt(value); ok {
		return &v
	}
	return nil
}
