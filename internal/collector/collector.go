package collector

import (
	"context"
	"github.com/clambin/livisi-climate/internal/climate"
	"github.com/prometheus/client_golang/prometheus"
	"log/slog"
	"sync"
)

var (
	climateTargetTempCelsius = prometheus.NewDesc(
		prometheus.BuildFQName("livisi", "climate", "target_temp_celsius"),
		"Target temperature of this room in degrees celsius",
		[]string{"room", "id"},
		nil,
	)
	climateTemperatureCelsius = prometheus.NewDesc(
		prometheus.BuildFQName("livisi", "climate", "temperature_celsius"),
		"Current temperature of this room in degrees celsius",
		[]string{"room", "id"},
		nil,
	)
	climateHumidityPercentage = prometheus.NewDesc(
		prometheus.BuildFQName("livisi", "climate", "humidity_percentage"),
		"Current humidity percentage in this room",
		[]string{"room", "id"},
		nil,
	)
	climateMinTempCelsius = prometheus.NewDesc(
		prometheus.BuildFQName("livisi", "climate", "min_temp_celsius"),
		"Lowest target temperature that can be set in this room",
		[]string{"room", "id"},
		nil,
	)
	climateMaxTempCelsius = prometheus.NewDesc(
		prometheus.BuildFQName("livisi", "climate", "max_temp_celsius"),
		"Highest target temperature that can be set in this room",
		[]string{"room", "id"},
		nil,
	)
	climateReachable = prometheus.NewDesc(
		prometheus.BuildFQName("livisi", "climate", "reachable"),
		"1 if the room's climate control is reachable",
		[]string{"room", "id"},
		nil,
	)
	climateHeating = prometheus.NewDesc(
		prometheus.BuildFQName("livisi", "climate", "heating"),
		"1 if this room is being heated",
		[]string{"room", "id"},
		nil,
	)
)

// Publisher publishes climate entities when their state changes.
type Publisher interface {
	Subscribe() chan climate.Thermostat
	Unsubscribe(chan climate.Thermostat)
}

// Collector exports the last known state of each climate entity as Prometheus metrics.
type Collector struct {
	Publisher Publisher
	Logger    *slog.Logger
	lock      sync.RWMutex
	states    map[string]climate.State
}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.Publisher.Subscribe()
	defer c.Publisher.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			if !e.Attached() {
				c.remove(e.UniqueID())
				continue
			}
			c.process(e.State())
		}
	}
}

func (c *Collector) process(state climate.State) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.states == nil {
		c.states = make(map[string]climate.State)
	}
	c.states[state.ID] = state
}

func (c *Collector) remove(id string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.states, id)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- climateTargetTempCelsius
	ch <- climateTemperatureCelsius
	ch <- climateHumidityPercentage
	ch <- climateMinTempCelsius
	ch <- climateMaxTempCelsius
	ch <- climateReachable
	ch <- climateHeating
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for _, state := range c.states {
		if state.TargetTemperature != nil {
			ch <- prometheus.MustNewConstMetric(climateTargetTempCelsius, prometheus.GaugeValue, *state.TargetTemperature, state.Name, state.ID)
		}
		if state.CurrentTemperature != nil {
			ch <- prometheus.MustNewConstMetric(climateTemperatureCelsius, prometheus.GaugeValue, *state.CurrentTemperature, state.Name, state.ID)
		}
		if state.Humidity != nil {
			ch <- prometheus.MustNewConstMetric(climateHumidityPercentage, prometheus.GaugeValue, float64(*state.Humidity), state.Name, state.ID)
		}
		ch <- prometheus.MustNewConstMetric(climateMinTempCelsius, prometheus.GaugeValue, state.MinTemperature, state.Name, state.ID)
		ch <- prometheus.MustNewConstMetric(climateMaxTempCelsius, prometheus.GaugeValue, state.MaxTemperature, state.Name, state.ID)
		ch <- prometheus.MustNewConstMetric(climateReachable, prometheus.GaugeValue, boolValue(state.Available), state.Name, state.ID)
		ch <- prometheus.MustNewConstMetric(climateHeating, prometheus.GaugeValue, boolValue(state.HVACAction == climate.HVACActionHeating), state.Name, state.ID)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
