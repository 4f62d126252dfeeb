package livisi_test

import (
	"context"
	"github.com/clambin/livisi-climate/internal/livisi"
	"github.com/clambin/livisi-climate/internal/livisi/livisitest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var vrcc = livisi.Device{
	ID:   "vrcc-1",
	Type: "VRCC",
	Name: "Living room climate",
	Room: "Living room",
	Capabilities: map[string]string{
		"RoomSetpoint":    "setpoint-1",
		"RoomTemperature": "temperature-1",
		"RoomHumidity":    "humidity-1",
	},
	CapabilityConfig: map[string]map[string]any{
		"RoomSetpoint": {"maxTemperature": 28.0, "minTemperature": 5.0},
	},
}

func newClient(s *livisitest.Server, options ...livisi.Option) *livisi.Client {
	options = append([]livisi.Option{
		livisi.WithBaseURL(s.URL),
		livisi.WithEventsURL(s.EventsURL()),
		livisi.WithLogger(slog.New(slog.DiscardHandler)),
	}, options...)
	return livisi.New("localhost", "admin", "secret", options...)
}

func TestClient_Controller(t *testing.T) {
	tests := []struct {
		name string
		v2   bool
	}{
		{name: "v1", v2: false},
		{name: "v2", v2: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := livisitest.New(tt.v2)
			defer s.Close()
			c := newClient(s)

			assert.False(t, c.IsV2())
			info, err := c.Controller(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.v2, info.IsV2())
			assert.Equal(t, tt.v2, c.IsV2())

			// cached
			calls := s.Calls()
			_, err = c.Controller(context.Background())
			require.NoError(t, err)
			assert.Equal(t, calls, s.Calls())
		})
	}
}

func TestClient_GetDevices(t *testing.T) {
	s := livisitest.New(true, vrcc, livisi.Device{ID: "switch-1", Type: "ISS2", Name: "Switch", Capabilities: map[string]string{"SwitchActuator": "switch-cap"}})
	defer s.Close()
	c := newClient(s)

	devices, err := c.GetDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, vrcc.ID, devices[0].ID)
	assert.Equal(t, "VRCC", devices[0].Type)
	assert.Equal(t, "Living room climate", devices[0].Name)
	assert.Equal(t, "Living room", devices[0].Room)
	assert.Equal(t, vrcc.Capabilities, devices[0].Capabilities)
	assert.Equal(t, 28.0, devices[0].CapabilityConfig["RoomSetpoint"]["maxTemperature"])

	assert.Equal(t, "switch-1", devices[1].ID)
	assert.Empty(t, devices[1].Room)
	assert.Equal(t, map[string]string{"SwitchActuator": "switch-cap"}, devices[1].Capabilities)
}

func TestClient_GetDeviceState(t *testing.T) {
	s := livisitest.New(false, vrcc)
	defer s.Close()
	s.SetState("temperature-1", "temperature", 19.5)
	c := newClient(s)

	value, err := c.GetDeviceState(context.Background(), "temperature-1", "temperature")
	require.NoError(t, err)
	assert.Equal(t, 19.5, value)

	value, err = c.GetDeviceState(context.Background(), "temperature-1", "humidity")
	require.NoError(t, err)
	assert.Nil(t, value)

	s.Fail(true)
	_, err = c.GetDeviceState(context.Background(), "temperature-1", "temperature")
	var apiErr *livisi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
}

func TestClient_SetState(t *testing.T) {
	s := livisitest.New(true, vrcc)
	defer s.Close()
	c := newClient(s)

	ok, err := c.SetState(context.Background(), "setpoint-1", "setpointTemperature", 21.5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []livisitest.Action{{Capability: "setpoint-1", Field: "setpointTemperature", Value: 21.5}}, s.Actions())
	value, _ := s.State("setpoint-1", "setpointTemperature")
	assert.Equal(t, 21.5, value)

	s.SetActionResult("Failed")
	ok, err = c.SetState(context.Background(), "setpoint-1", "setpointTemperature", 22.0)
	require.NoError(t, err)
	assert.False(t, ok)

	s.Fail(true)
	ok, err = c.SetState(context.Background(), "setpoint-1", "setpointTemperature", 22.0)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestClient_RequestMetrics(t *testing.T) {
	s := livisitest.New(true, vrcc)
	defer s.Close()
	m := livisi.NewRequestMetrics("livisi", "climate", map[string]string{"application": "livisi"})
	c := newClient(s, livisi.WithRequestMetrics(m))

	_, err := c.GetDeviceState(context.Background(), "temperature-1", "temperature")
	require.NoError(t, err)

	assert.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(`
# HELP livisi_climate_http_requests_total total number of http requests
# TYPE livisi_climate_http_requests_total counter
livisi_climate_http_requests_total{application="livisi",code="200",method="GET",path="/capability/state"} 1
livisi_climate_http_requests_total{application="livisi",code="200",method="POST",path="/auth/token"} 1
`), "livisi_climate_http_requests_total"))
}

func TestClient_Events(t *testing.T) {
	s := livisitest.New(true, vrcc)
	defer s.Close()
	c := newClient(s)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan livisi.Event)
	errCh := make(chan error)
	go func() { errCh <- c.Events(ctx, func(event livisi.Event) { ch <- event }) }()

	require.Eventually(t, func() bool { return s.Connections() == 1 }, time.Second, 10*time.Millisecond)

	s.Publish(livisi.Event{
		Type:       livisi.EventStateChanged,
		Source:     "/capability/setpoint-1",
		Properties: livisi.Properties{"setpointTemperature": 20.0},
	})
	event := <-ch
	id, ok := event.CapabilityID()
	require.True(t, ok)
	assert.Equal(t, "setpoint-1", id)
	value, ok := event.Properties.Value()
	require.True(t, ok)
	assert.Equal(t, 20.0, value)

	cancel()
	assert.NoError(t, <-errCh)
}

func TestClient_Events_Unauthorized(t *testing.T) {
	s := livisitest.New(true, vrcc)
	defer s.Close()
	c := newClient(s, livisi.WithEventsURL(s.EventsURL()+"/missing"))

	err := c.Events(context.Background(), func(livisi.Event) {})
	assert.Error(t, err)
}
