package cli

import (
	"fmt"
	"github.com/clambin/livisi-climate/internal/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func run(cmd *cobra.Command, _ []string) error {
	l := slog.Default()
	l.Info("livisi-climate starting", "version", cmd.Root().Version)
	defer l.Info("livisi-climate stopped")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := app.New(viper.GetViper(), cmd.Root().Version, registry, l)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return a.Run(ctx)
}
