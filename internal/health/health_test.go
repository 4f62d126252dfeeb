package health

import (
	"context"
	"encoding/json"
	"github.com/clambin/livisi-climate/internal/climate"
	"github.com/clambin/livisi-climate/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCoordinator struct {
	updated   atomic.Bool
	refreshed atomic.Int32
}

func (f *fakeCoordinator) Updated() bool { return f.updated.Load() }
func (f *fakeCoordinator) Refresh()      { f.refreshed.Add(1) }

type fakeThermostat struct {
	*entity.Base
}

func (f fakeThermostat) Added(context.Context) error { return nil }
func (f fakeThermostat) State() climate.State {
	return climate.State{ID: f.UniqueID(), Name: f.Name(), HVACMode: climate.HVACModeHeat, HVACAction: climate.HVACActionOff}
}
func (f fakeThermostat) SetTemperature(context.Context, climate.SetTemperatureCommand) error {
	return nil
}

func TestHealth_ServeHTTP(t *testing.T) {
	l := slog.New(slog.DiscardHandler)
	p := entity.NewPlatform[climate.Thermostat](l)
	var c fakeCoordinator
	h := New(p, &c, l)

	go func() { _ = h.Run(t.Context()) }()
	require.Eventually(t, func() bool { return p.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, &http.Request{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, int32(1), c.refreshed.Load())

	p.AddEntities(t.Context(), fakeThermostat{Base: entity.NewBase("vrcc-2", "Study")}, fakeThermostat{Base: entity.NewBase("vrcc-1", "Bedroom")})
	c.updated.Store(true)

	var states []climate.State
	assert.Eventually(t, func() bool {
		resp = httptest.NewRecorder()
		h.ServeHTTP(resp, &http.Request{})
		if resp.Code != http.StatusOK {
			return false
		}
		states = nil
		return json.NewDecoder(resp.Body).Decode(&states) == nil && len(states) == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "Bedroom", states[0].Name)
	assert.Equal(t, "Study", states[1].Name)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	p.Remove("vrcc-1")
	assert.Eventually(t, func() bool {
		resp = httptest.NewRecorder()
		h.ServeHTTP(resp, &http.Request{})
		states = nil
		return json.NewDecoder(resp.Body).Decode(&states) == nil && len(states) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "Study", states[0].Name)
}
