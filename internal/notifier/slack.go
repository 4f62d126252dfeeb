package notifier

import (
	"fmt"
	"github.com/slack-go/slack"
	"log/slog"
	"sync"
)

// SlackNotifier posts messages to all Slack channels the bot has joined.
type SlackNotifier struct {
	Logger *slog.Logger
	SlackSender
	authenticated bool
	lock          sync.Mutex
}

type SlackSender interface {
	PostMessage(string, ...slack.MsgOption) (string, string, error)
	GetConversations(*slack.GetConversationsParameters) ([]slack.Channel, string, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

var _ Notifier = &SlackNotifier{}

func (s *SlackNotifier) Notify(msg string) {
	channels, err := s.getChannels()
	if err != nil {
		s.Logger.Error("notifier failed to retrieve channels", "err", err)
		return
	}
	for _, channel := range channels {
		s.Logger.Debug("notifying on slack", "channel", channel.Name)
		_, _, err = s.SlackSender.PostMessage(channel.ID, slack.MsgOptionAttachments(slack.Attachment{
			Color: "danger",
			Title: msg,
		}))
		if err != nil {
			s.Logger.Error("notifier failed to post message", "err", err)
		}
	}
}

func (s *SlackNotifier) getChannels() ([]slack.Channel, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.authenticated {
		if _, err := s.SlackSender.AuthTest(); err != nil {
			return nil, fmt.Errorf("AuthTest: %w", err)
		}
		s.authenticated = true
	}

	var joinedChannels []slack.Channel
	var cursor string
	for {
		channels, nextCursor, err := s.SlackSender.GetConversations(&slack.GetConversationsParameters{Cursor: cursor, Limit: 100})
		if err != nil {
			return nil, fmt.Errorf("GetConversations: %w", err)
		}
		for _, channel := range channels {
			if channel.IsMember && !channel.IsArchived {
				joinedChannels = append(joinedChannels, channel)
			}
		}
		if cursor = nextCursor; cursor == "" {
			break
		}
	}
	return joinedChannels, nil
}
