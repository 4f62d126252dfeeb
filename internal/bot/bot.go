// Package bot implements the Slack commands to report and control the climate entities.
package bot

import (
	"context"
	"fmt"
	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/livisi-climate/internal/climate"
	"github.com/slack-go/slack"
	"log/slog"
	"strconv"
	"strings"
)

type SlackBot interface {
	Add(commands slackbot.Commands)
	Run(ctx context.Context) error
	Send(channel string, attachments []slack.Attachment) error
}

type Platform interface {
	Entities() []climate.Thermostat
}

type Coordinator interface {
	Refresh()
}

type Bot struct {
	platform    Platform
	coordinator Coordinator
	logger      *slog.Logger
}

func New(b SlackBot, p Platform, c Coordinator, logger *slog.Logger) *Bot {
	bot := Bot{
		platform:    p,
		coordinator: c,
		logger:      logger,
	}
	b.Add(slackbot.Commands{
		"rooms":   slackbot.HandlerFunc(bot.ReportRooms),
		"set":     slackbot.HandlerFunc(bot.SetRoom),
		"refresh": slackbot.HandlerFunc(bot.DoRefresh),
	})
	return &bot
}

func (b *Bot) ReportRooms(_ context.Context, _ ...string) []slack.Attachment {
	entities := b.platform.Entities()
	if len(entities) == 0 {
		return []slack.Attachment{{
			Color: "bad",
			Text:  "no rooms found",
		}}
	}

	text := make([]string, 0, len(entities))
	for _, e := range entities {
		text = append(text, roomState(e.State()))
	}

	return []slack.Attachment{{
		Color: "good",
		Title: "rooms:",
		Text:  strings.Join(text, "\n"),
	}}
}

func roomState(state climate.State) string {
	if !state.Available || state.CurrentTemperature == nil {
		return state.Name + ": unavailable"
	}
	text := fmt.Sprintf("%s: %.1fºC", state.Name, *state.CurrentTemperature)
	details := make([]string, 0, 3)
	if state.TargetTemperature != nil {
		details = append(details, fmt.Sprintf("target: %.1f", *state.TargetTemperature))
	}
	if state.Humidity != nil {
		details = append(details, fmt.Sprintf("humidity: %d%%", *state.Humidity))
	}
	details = append(details, string(state.HVACAction))
	return text + " (" + strings.Join(details, ", ") + ")"
}

func (b *Bot) SetRoom(ctx context.Context, args ...string) []slack.Attachment {
	e, temperature, err := b.parseSetCommand(args...)
	if err != nil {
		return []slack.Attachment{{
			Color: "bad",
			Text:  "invalid command: " + err.Error(),
		}}
	}

	b.logger.Debug("setting target temperature", "room", e.Name(), "temperature", temperature)
	if err = e.SetTemperature(ctx, climate.SetTemperatureCommand{Temperature: temperature}); err != nil {
		return []slack.Attachment{{
			Color: "bad",
			Text:  err.Error(),
		}}
	}

	return []slack.Attachment{{
		Color: "good",
		Text:  fmt.Sprintf("Setting target temperature for %s to %.1fºC", e.Name(), temperature),
	}}
}

func (b *Bot) parseSetCommand(args ...string) (climate.Thermostat, float64, error) {
	if len(args) != 2 {
		return nil, 0, fmt.Errorf("missing parameters\nUsage: set <room> <temperature>")
	}

	var e climate.Thermostat
	for _, candidate := range b.platform.Entities() {
		if strings.EqualFold(candidate.Name(), args[0]) {
			e = candidate
			break
		}
	}
	if e == nil {
		return nil, 0, fmt.Errorf("invalid room name: %s", args[0])
	}

	temperature, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid target temperature: \"%s\"", args[1])
	}
	state := e.State()
	if temperature < state.MinTemperature || temperature > state.MaxTemperature {
		return nil, 0, fmt.Errorf("target temperature must be between %.1f and %.1f", state.MinTemperature, state.MaxTemperature)
	}
	return e, temperature, nil
}

func (b *Bot) DoRefresh(_ context.Context, _ ...string) []slack.Attachment {
	b.coordinator.Refresh()
	return []slack.Attachment{{
		Text: "refreshing LIVISI data",
	}}
}
