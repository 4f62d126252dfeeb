package mqtt

import (
	"context"
	"fmt"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"log/slog"
	"time"
)

// Client is the part of the paho MQTT client used by the Bridge.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var _ Client = paho.Client(nil)

// Connect connects to the MQTT broker. It keeps retrying until the connection succeeds or ctx is canceled.
// Once connected, the client reconnects automatically if the connection is lost. onConnect, if not nil, is called
// after each (re)connect.
func Connect(ctx context.Context, broker, username, password string, onConnect func(), logger *slog.Logger) (paho.Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetClientID(clientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("connected to mqtt broker", "broker", broker)
		if onConnect != nil {
			onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { logger.Warn("mqtt connection lost", "err", err) })

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		return client, nil
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
}

func clientID() string {
	return "livisi-climate-" + uuid.NewString()[:8]
}
