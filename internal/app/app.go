package app

import (
	"context"
	"errors"
	"fmt"
	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/livisi-climate/internal/bot"
	"github.com/clambin/livisi-climate/internal/climate"
	"github.com/clambin/livisi-climate/internal/collector"
	"github.com/clambin/livisi-climate/internal/coordinator"
	"github.com/clambin/livisi-climate/internal/dispatch"
	"github.com/clambin/livisi-climate/internal/entity"
	"github.com/clambin/livisi-climate/internal/health"
	"github.com/clambin/livisi-climate/internal/livisi"
	"github.com/clambin/livisi-climate/internal/mqtt"
	"github.com/clambin/livisi-climate/internal/notifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

type Task interface {
	Run(ctx context.Context) error
}

type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// App runs all components needed to expose a controller's climates.
type App struct {
	Coordinator *coordinator.Coordinator
	Platform    *entity.Platform[climate.Thermostat]
	entry       *entity.ConfigEntry
	bus         *dispatch.Bus
	tasks       []Task
	logger      *slog.Logger
}

// Registry registers the application's metrics and serves them on the exporter's /metrics endpoint.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

func New(cfg *viper.Viper, version string, registry Registry, logger *slog.Logger) (*App, error) {
	host := cfg.GetString("livisi.host")
	if host == "" {
		return nil, errors.New("livisi.host not set")
	}

	m := livisi.NewRequestMetrics("livisi", "climate", nil)
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("register request metrics: %w", err)
	}
	client := livisi.New(
		host,
		cfg.GetString("livisi.username"),
		cfg.GetString("livisi.password"),
		livisi.WithRequestMetrics(m),
		livisi.WithLogger(logger.With("component", "livisi")),
	)

	bus := dispatch.New(logger.With("component", "dispatch"))
	a := App{
		Coordinator: coordinator.New(
			client,
			bus,
			cfg.GetDuration("poller.interval"),
			cfg.GetDuration("events.reconnect"),
			logger.With("component", "coordinator"),
		),
		Platform: entity.NewPlatform[climate.Thermostat](logger.With("component", "platform")),
		entry:    entity.NewConfigEntry(host),
		bus:      bus,
		logger:   logger,
	}
	var err error
	a.tasks, err = a.makeTasks(cfg, version, registry)
	return &a, err
}

func (a *App) makeTasks(cfg *viper.Viper, version string, registry Registry) ([]Task, error) {
	tasks := []Task{a.Coordinator}

	// Collector
	coll := &collector.Collector{Publisher: a.Platform, Logger: a.logger.With("component", "collector")}
	if err := registry.Register(coll); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	tasks = append(tasks, coll)

	// Prometheus Server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	tasks = append(tasks, httpServer(cfg.GetString("exporter.addr"), metricsMux))

	// Health Endpoint
	h := health.New(a.Platform, a.Coordinator, a.logger.With("component", "health"))
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", h)
	tasks = append(tasks, h, httpServer(cfg.GetString("health.addr"), healthMux))

	notifiers := notifier.Notifiers{&notifier.SLogNotifier{Logger: a.logger.With("component", "notifier")}}

	// Slackbot
	if token := cfg.GetString("slack.token"); token != "" {
		b := slackbot.New(
			token,
			slackbot.WithName("livisi-climate "+version),
			slackbot.WithLogger(a.logger.With(slog.String("component", "slackbot"))),
		)
		bot.New(b, a.Platform, a.Coordinator, a.logger.With("component", "bot"))
		tasks = append(tasks, b)
		notifiers = append(notifiers, &notifier.SlackNotifier{
			Logger:      a.logger.With("component", "slack-notifier"),
			SlackSender: slack.New(token),
		})
	}

	// MQTT
	if broker := cfg.GetString("mqtt.broker"); broker != "" {
		mqttConfig := mqtt.Config{
			DiscoveryPrefix: cfg.GetString("mqtt.discoveryPrefix"),
			BaseTopic:       cfg.GetString("mqtt.baseTopic"),
		}
		logger := a.logger.With("component", "mqtt")
		tasks = append(tasks, TaskFunc(func(ctx context.Context) error {
			var bridge atomic.Pointer[mqtt.Bridge]
			onConnect := func() {
				if b := bridge.Load(); b != nil {
					b.Resubscribe()
				}
			}
			client, err := mqtt.Connect(ctx, broker, cfg.GetString("mqtt.username"), cfg.GetString("mqtt.password"), onConnect, logger)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("mqtt: %w", err)
			}
			defer client.Disconnect(250)
			bridge.Store(mqtt.New(client, mqttConfig, a.Platform, notifiers, logger))
			return bridge.Load().Run(ctx)
		}))
	}

	return tasks, nil
}

// Run sets up climate discovery and runs all tasks until ctx is canceled. On exit, all climates are removed.
func (a *App) Run(ctx context.Context) error {
	a.logger.Debug("started")
	defer a.logger.Debug("stopped")

	climate.Setup(ctx, a.entry, a.Coordinator, a.bus, a.Platform, a.logger.With("component", "setup"))
	defer a.entry.Unload()

	g, ctx := errgroup.WithContext(ctx)
	for _, task := range a.tasks {
		g.Go(func() error { return task.Run(ctx) })
	}
	return g.Wait()
}

func httpServer(addr string, handler http.Handler) Task {
	return TaskFunc(func(ctx context.Context) error {
		s := http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		errCh := make(chan error, 1)
		go func() {
			if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server %s: %w", addr, err)
			}
			close(errCh)
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
}
