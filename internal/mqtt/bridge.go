// Package mqtt publishes climate entities to an MQTT broker, using Home Assistant's MQTT discovery, and
// forwards target temperature commands received from the broker to the entity.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/clambin/livisi-climate/internal/climate"
	paho "github.com/eclipse/paho.mqtt.golang"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

type Publisher interface {
	Subscribe() chan climate.Thermostat
	Unsubscribe(chan climate.Thermostat)
}

type Notifier interface {
	Notify(string)
}

type Config struct {
	DiscoveryPrefix string
	BaseTopic       string
}

// brokerTimeout is how long the Bridge waits for the broker to acknowledge a publish or (un)subscribe.
const brokerTimeout = 5 * time.Second

var errBrokerTimeout = errors.New("timeout waiting for broker")

// Bridge publishes each climate entity's discovery config, state and availability, and subscribes to its
// target temperature command topic.
type Bridge struct {
	client    Client
	config    Config
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger
	lock      sync.Mutex
	announced map[string]paho.MessageHandler
}

func New(client Client, config Config, publisher Publisher, notifier Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		client:    client,
		config:    config,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		announced: make(map[string]paho.MessageHandler),
	}
}

func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Debug("started")
	defer b.logger.Debug("stopped")

	ch := b.publisher.Subscribe()
	defer b.publisher.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case e := <-ch:
			if err := b.process(ctx, e); err != nil {
				b.logger.Error("failed to publish climate", "id", e.UniqueID(), "err", err)
			}
		}
	}
}

func (b *Bridge) process(ctx context.Context, e climate.Thermostat) error {
	if !e.Attached() {
		return b.withdraw(e.UniqueID())
	}
	if err := b.announce(ctx, e); err != nil {
		return err
	}
	state := e.State()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if err = b.publish(b.stateTopic(state.ID), payload); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	availability := payloadOffline
	if state.Available {
		availability = payloadOnline
	}
	if err = b.publish(b.availabilityTopic(state.ID), availability); err != nil {
		return fmt.Errorf("availability: %w", err)
	}
	return nil
}

// announce publishes the entity's discovery config and subscribes to its command topic, the first time the entity is seen.
func (b *Bridge) announce(ctx context.Context, e climate.Thermostat) error {
	id := e.UniqueID()
	b.lock.Lock()
	_, ok := b.announced[id]
	b.lock.Unlock()
	if ok {
		return nil
	}

	payload, err := json.Marshal(b.discoveryConfig(e.State()))
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err = b.publish(b.discoveryTopic(id), payload); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	handler := func(_ paho.Client, msg paho.Message) {
		// SetTemperature blocks on the controller: run it outside paho's message router
		go b.setTemperature(ctx, e, msg.Payload())
	}
	if err = wait(b.client.Subscribe(b.commandTopic(id), 0, handler)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	b.lock.Lock()
	b.announced[id] = handler
	b.lock.Unlock()
	b.logger.Debug("climate announced", "id", id, "name", e.Name())
	return nil
}

// withdraw marks a removed climate as offline and stops listening for its commands.
func (b *Bridge) withdraw(id string) error {
	b.lock.Lock()
	_, ok := b.announced[id]
	delete(b.announced, id)
	b.lock.Unlock()
	if !ok {
		return nil
	}

	b.logger.Debug("climate withdrawn", "id", id)
	if err := wait(b.client.Unsubscribe(b.commandTopic(id))); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if err := b.publish(b.availabilityTopic(id), payloadOffline); err != nil {
		return fmt.Errorf("availability: %w", err)
	}
	return nil
}

// Resubscribe subscribes to the command topic of every announced climate again. Call it whenever the client
// (re)connects to the broker: with a clean session, the broker forgets all subscriptions when the connection drops.
func (b *Bridge) Resubscribe() {
	b.lock.Lock()
	handlers := maps.Clone(b.announced)
	b.lock.Unlock()

	for id, handler := range handlers {
		if err := wait(b.client.Subscribe(b.commandTopic(id), 0, handler)); err != nil {
			b.logger.Warn("failed to resubscribe", "id", id, "err", err)
		}
	}
	if len(handlers) > 0 {
		b.logger.Debug("command topics resubscribed", "count", len(handlers))
	}
}

func (b *Bridge) setTemperature(ctx context.Context, e climate.Thermostat, payload []byte) {
	temperature, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		b.logger.Warn("invalid target temperature received", "id", e.UniqueID(), "payload", string(payload))
		return
	}
	b.logger.Debug("setting target temperature", "id", e.UniqueID(), "temperature", temperature)
	if err = e.SetTemperature(ctx, climate.SetTemperatureCommand{Temperature: temperature}); err != nil {
		b.notifier.Notify(err.Error())
	}
}

func (b *Bridge) shutdown() {
	b.lock.Lock()
	ids := slices.Collect(maps.Keys(b.announced))
	clear(b.announced)
	b.lock.Unlock()

	for _, id := range ids {
		_ = b.publish(b.availabilityTopic(id), payloadOffline)
		_ = wait(b.client.Unsubscribe(b.commandTopic(id)))
	}
}

func (b *Bridge) publish(topic string, payload any) error {
	return wait(b.client.Publish(topic, 0, true, payload))
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(brokerTimeout) {
		return errBrokerTimeout
	}
	return token.Error()
}

func (b *Bridge) discoveryTopic(id string) string {
	return b.config.DiscoveryPrefix + "/climate/" + id + "/config"
}

func (b *Bridge) stateTopic(id string) string {
	return b.config.BaseTopic + "/" + id + "/state"
}

func (b *Bridge) availabilityTopic(id string) string {
	return b.config.BaseTopic + "/" + id + "/availability"
}

func (b *Bridge) commandTopic(id string) string {
	return b.config.BaseTopic + "/" + id + "/target_temperature/set"
}

type discoveryConfig struct {
	Name                       string          `json:"name"`
	UniqueID                   string          `json:"unique_id"`
	Modes                      []string        `json:"modes"`
	TemperatureUnit            string          `json:"temperature_unit"`
	TempStep                   float64         `json:"temp_step"`
	MinTemp                    float64         `json:"min_temp"`
	MaxTemp                    float64         `json:"max_temp"`
	CurrentTemperatureTopic    string          `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string          `json:"current_temperature_template"`
	TemperatureStateTopic      string          `json:"temperature_state_topic"`
	TemperatureStateTemplate   string          `json:"temperature_state_template"`
	TemperatureCommandTopic    string          `json:"temperature_command_topic"`
	CurrentHumidityTopic       string          `json:"current_humidity_topic"`
	CurrentHumidityTemplate    string          `json:"current_humidity_template"`
	ModeStateTopic             string          `json:"mode_state_topic"`
	ModeStateTemplate          string          `json:"mode_state_template"`
	ActionTopic                string          `json:"action_topic"`
	ActionTemplate             string          `json:"action_template"`
	AvailabilityTopic          string          `json:"availability_topic"`
	PayloadAvailable           string          `json:"payload_available"`
	PayloadNotAvailable        string          `json:"payload_not_available"`
	Device                     discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

func (b *Bridge) discoveryConfig(state climate.State) discoveryConfig {
	stateTopic := b.stateTopic(state.ID)
	return discoveryConfig{
		Name:                       state.Name,
		UniqueID:                   "livisi_" + state.ID,
		Modes:                      []string{string(climate.HVACModeHeat)},
		TemperatureUnit:            "C",
		TempStep:                   0.5,
		MinTemp:                    state.MinTemperature,
		MaxTemp:                    state.MaxTemperature,
		CurrentTemperatureTopic:    stateTopic,
		CurrentTemperatureTemplate: "{{ value_json.current_temperature }}",
		TemperatureStateTopic:      stateTopic,
		TemperatureStateTemplate:   "{{ value_json.target_temperature }}",
		TemperatureCommandTopic:    b.commandTopic(state.ID),
		CurrentHumidityTopic:       stateTopic,
		CurrentHumidityTemplate:    "{{ value_json.humidity }}",
		ModeStateTopic:             stateTopic,
		ModeStateTemplate:          "{{ value_json.hvac_mode }}",
		ActionTopic:                stateTopic,
		ActionTemplate:             "{{ value_json.hvac_action }}",
		AvailabilityTopic:          b.availabilityTopic(state.ID),
		PayloadAvailable:           payloadOnline,
		PayloadNotAvailable:        payloadOffline,
		Device: discoveryDevice{
			Identifiers:  []string{state.ID},
			Name:         state.Name,
			Manufacturer: "LIVISI",
			Model:        "VRCC",
		},
	}
}
