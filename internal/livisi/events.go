package livisi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Events connects to the controller's event stream and calls handle for each event received.
// It returns nil when ctx is canceled, or an error when the connection can't be set up or is lost.
func (c *Client) Events(ctx context.Context, handle func(Event)) error {
	endpoint, err := c.eventsEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	q := u.Query()
	q.Set("token", token.AccessToken)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.tokens.reset()
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("events: connect: %w", err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.logger.Debug("event stream connected", "url", endpoint)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("events: read: %w", err)
		}
		var event Event
		if err = json.Unmarshal(msg, &event); err != nil {
			c.logger.Warn("discarding invalid event", "err", err)
			continue
		}
		handle(event)
	}
}

func (c *Client) eventsEndpoint(ctx context.Context) (string, error) {
	if c.eventsURL != "" {
		return c.eventsURL, nil
	}
	controller, err := c.Controller(ctx)
	if err != nil {
		return "", err
	}
	port := eventsPortV1
	if controller.IsV2() {
		port = eventsPortV2
	}
	return "ws://" + net.JoinHostPort(c.host, port) + "/events", nil
}
