package app

import (
	"bytes"
	"context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		name    string
		config  string
		wantErr assert.ErrorAssertionFunc
		length  int
	}{
		{
			name: "minimal",
			config: `
livisi:
  host: shc.local
`,
			wantErr: assert.NoError,
			length:  5,
		},
		{
			name: "slack and mqtt",
			config: `
livisi:
  host: shc.local
slack:
  token: 1234
mqtt:
  broker: tcp://localhost:1883
`,
			wantErr: assert.NoError,
			length:  7,
		},
		{
			name: "missing host",
			config: `
livisi:
  password: secret
`,
			wantErr: assert.Error,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := viper.New()
			cfg.SetConfigType("yaml")
			require.NoError(t, cfg.ReadConfig(bytes.NewBufferString(tt.config)))

			a, err := New(cfg, "1.0", prometheus.NewPedanticRegistry(), slog.New(slog.DiscardHandler))
			tt.wantErr(t, err)
			if err == nil {
				assert.Len(t, a.tasks, tt.length)
			}
		})
	}
}

func TestApp_Run(t *testing.T) {
	cfg := viper.New()
	cfg.Set("livisi.host", "shc.invalid")
	cfg.Set("poller.interval", time.Hour)
	cfg.Set("events.reconnect", time.Hour)
	cfg.Set("exporter.addr", "localhost:0")
	cfg.Set("health.addr", "localhost:0")

	a, err := New(cfg, "1.0", prometheus.NewPedanticRegistry(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- a.Run(ctx) }()

	assert.Eventually(t, func() bool { return a.Platform.Subscribers() == 2 }, time.Second, 10*time.Millisecond)
	assert.False(t, a.Coordinator.Updated())

	cancel()
	assert.NoError(t, <-errCh)
	assert.Empty(t, a.Platform.Entities())
}
