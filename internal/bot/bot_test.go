package bot

import (
	"context"
	"errors"
	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/livisi-climate/internal/climate"
	"github.com/clambin/livisi-climate/internal/entity"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

type slackBot struct {
	mock.Mock
	commands slackbot.Commands
}

func (s *slackBot) Add(commands slackbot.Commands) {
	if s.commands == nil {
		s.commands = make(slackbot.Commands)
	}
	s.commands.Add(commands)
}

func (s *slackBot) Run(ctx context.Context) error {
	return s.Called(ctx).Error(0)
}

func (s *slackBot) Send(channel string, attachments []slack.Attachment) error {
	return s.Called(channel, attachments).Error(0)
}

type coordinator struct {
	mock.Mock
}

func (c *coordinator) Refresh() {
	c.Called()
}

type thermostat struct {
	*entity.Base
	state climate.State
	err   error
	set   []float64
}

func (t *thermostat) Added(context.Context) error { return nil }
func (t *thermostat) State() climate.State        { return t.state }
func (t *thermostat) SetTemperature(_ context.Context, cmd climate.SetTemperatureCommand) error {
	if t.err != nil {
		return t.err
	}
	t.set = append(t.set, cmd.Temperature)
	return nil
}

type platform []climate.Thermostat

func (p platform) Entities() []climate.Thermostat { return p }

func ptr[T any](v T) *T {
	return &v
}

func newThermostat(id, name string, state climate.State) *thermostat {
	state.ID = id
	state.Name = name
	state.MinTemperature = 6
	state.MaxTemperature = 30
	return &thermostat{Base: entity.NewBase(id, name), state: state}
}

func TestBot_Commands(t *testing.T) {
	var s slackBot
	_ = New(&s, platform{}, &coordinator{}, slog.New(slog.DiscardHandler))

	for _, command := range []string{"rooms", "set", "refresh"} {
		assert.Contains(t, s.commands, command)
	}
}

func TestBot_ReportRooms(t *testing.T) {
	var s slackBot
	b := New(&s, platform{}, &coordinator{}, slog.New(slog.DiscardHandler))

	attachments := b.ReportRooms(context.Background())
	require.Len(t, attachments, 1)
	assert.Equal(t, "no rooms found", attachments[0].Text)

	b.platform = platform{
		newThermostat("vrcc-2", "Bedroom", climate.State{}),
		newThermostat("vrcc-1", "Study", climate.State{
			TargetTemperature:  ptr(21.5),
			CurrentTemperature: ptr(19.0),
			Humidity:           ptr(45),
			HVACAction:         climate.HVACActionHeating,
			Available:          true,
		}),
	}
	attachments = s.commands.Handle(context.Background(), "rooms")
	require.Len(t, attachments, 1)
	assert.Equal(t, "rooms:", attachments[0].Title)
	assert.Equal(t, "Bedroom: unavailable\nStudy: 19.0ºC (target: 21.5, humidity: 45%, heating)", attachments[0].Text)
}

func TestBot_SetRoom(t *testing.T) {
	study := newThermostat("vrcc-1", "Study", climate.State{})
	bedroom := newThermostat("vrcc-2", "Bedroom", climate.State{})
	bedroom.err = &entity.UserError{Message: "Failed to set temperature on Bedroom", Err: errors.New("fail")}

	var s slackBot
	b := New(&s, platform{study, bedroom}, &coordinator{}, slog.New(slog.DiscardHandler))

	tests := []struct {
		name  string
		args  []string
		color string
		text  string
	}{
		{name: "missing parameters", args: []string{"Study"}, color: "bad", text: "invalid command: missing parameters\nUsage: set <room> <temperature>"},
		{name: "invalid room", args: []string{"Kitchen", "20"}, color: "bad", text: "invalid command: invalid room name: Kitchen"},
		{name: "invalid temperature", args: []string{"Study", "warm"}, color: "bad", text: "invalid command: invalid target temperature: \"warm\""},
		{name: "out of range", args: []string{"Study", "35"}, color: "bad", text: "invalid command: target temperature must be between 6.0 and 30.0"},
		{name: "failure", args: []string{"Bedroom", "20"}, color: "bad", text: "Failed to set temperature on Bedroom"},
		{name: "success", args: []string{"study", "21.5"}, color: "good", text: "Setting target temperature for Study to 21.5ºC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attachments := b.SetRoom(context.Background(), tt.args...)
			require.Len(t, attachments, 1)
			assert.Equal(t, tt.color, attachments[0].Color)
			assert.Equal(t, tt.text, attachments[0].Text)
		})
	}

	assert.Equal(t, []float64{21.5}, study.set)
}

func TestBot_DoRefresh(t *testing.T) {
	var c coordinator
	c.On("Refresh").Once()

	var s slackBot
	b := New(&s, platform{}, &c, slog.New(slog.DiscardHandler))

	attachments := b.DoRefresh(context.Background())
	require.Len(t, attachments, 1)
	assert.Equal(t, "refreshing LIVISI data", attachments[0].Text)
	c.AssertExpectations(t)
}
