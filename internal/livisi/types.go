package livisi

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// ControllerTypeV2 is the controller type reported by second generation controllers.
const ControllerTypeV2 = "SHCA"

// ControllerInfo describes the SmartHome Controller.
type ControllerInfo struct {
	SerialNumber   string `json:"serialNumber" yaml:"serialNumber"`
	ControllerType string `json:"controllerType" yaml:"controllerType"`
	AppVersion     string `json:"appVersion" yaml:"appVersion"`
	OSVersion      string `json:"osVersion" yaml:"osVersion"`
}

// IsV2 returns true if the controller speaks the v2 API.
func (c ControllerInfo) IsV2() bool {
	return c.ControllerType == ControllerTypeV2
}

// statusResponse covers both layouts of /status: v1 returns the controller fields at the top level,
// v2 nests them under "gateway".
type statusResponse struct {
	ControllerInfo
	Gateway *ControllerInfo `json:"gateway"`
}

func (s statusResponse) controllerInfo() ControllerInfo {
	if s.Gateway != nil {
		return *s.Gateway
	}
	return s.ControllerInfo
}

// Device is a device known to the controller, with its capabilities resolved by type.
type Device struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
	Name string `json:"name" yaml:"name"`
	Room string `json:"room,omitempty" yaml:"room,omitempty"`
	// Capabilities maps a capability type (e.g. "RoomSetpoint") to its capability ID.
	Capabilities map[string]string `json:"capabilities" yaml:"capabilities"`
	// CapabilityConfig maps a capability type to its configuration.
	CapabilityConfig map[string]map[string]any `json:"capabilityConfig,omitempty" yaml:"capabilityConfig,omitempty"`
}

func (d Device) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.ID),
		slog.String("type", d.Type),
		slog.String("name", d.Name),
		slog.String("room", d.Room),
	)
}

type device struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Config       map[string]any `json:"config"`
	Capabilities []string       `json:"capabilities"`
	Location     string         `json:"location"`
}

type capability struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Device string         `json:"device"`
	Config map[string]any `json:"config"`
}

type location struct {
	ID     string `json:"id"`
	Config struct {
		Name string `json:"name"`
	} `json:"config"`
}

type stateValue struct {
	Value       any    `json:"value"`
	LastChanged string `json:"lastChanged,omitempty"`
}

type actionParam struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type action struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Namespace string                 `json:"namespace"`
	Target    string                 `json:"target"`
	Params    map[string]actionParam `json:"params"`
}

type actionResult struct {
	ResultCode string `json:"resultCode"`
}

const (
	capabilityPrefix = "/capability/"
	devicePrefix     = "/device/"
	locationPrefix   = "/location/"
)

func trimRef(ref, prefix string) (string, bool) {
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	return strings.TrimPrefix(ref, prefix), true
}

// EventStateChanged is the event type sent when a capability or device changes state.
const EventStateChanged = "StateChanged"

// Event is a message received on the controller's event stream.
type Event struct {
	Type       string     `json:"type"`
	Namespace  string     `json:"namespace"`
	Source     string     `json:"source"`
	Timestamp  string     `json:"timestamp"`
	Properties Properties `json:"properties"`
}

// CapabilityID returns the capability that sent the event, if the source is a capability.
func (e Event) CapabilityID() (string, bool) {
	return trimRef(e.Source, capabilityPrefix)
}

// DeviceID returns the device that sent the event, if the source is a device.
func (e Event) DeviceID() (string, bool) {
	return trimRef(e.Source, devicePrefix)
}

// Properties holds the state values carried by an Event.
//
// Older firmware sends properties as a list of name/value pairs. Both layouts decode to the same map.
type Properties map[string]any

func (p *Properties) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		*p = m
		return nil
	}
	var list []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = make(Properties, len(list))
	for _, entry := range list {
		(*p)[entry.Name] = entry.Value
	}
	return nil
}

// stateFields are the property names that carry a capability's state value.
var stateFields = []string{
	"setpointTemperature",
	"pointTemperature",
	"temperature",
	"humidity",
	"onState",
	"value",
}

// Value returns the state value carried by the event.
func (p Properties) Value() (any, bool) {
	for _, field := range stateFields {
		if v, ok := p[field]; ok {
			return v, true
		}
	}
	if len(p) == 1 {
		for _, v := range p {
			return v, true
		}
	}
	return nil, false
}

// Reachable returns the device's reachability, if the event carries it.
func (p Properties) Reachable() (bool, bool) {
	v, ok := p["isReachable"].(bool)
	return v, ok
}
