package cli

import (
	"context"
	"fmt"
	"github.com/clambin/livisi-climate/internal/climate"
	"github.com/clambin/livisi-climate/internal/livisi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"io"
	"log/slog"
	"time"
)

type DeviceLister interface {
	Controller(ctx context.Context) (livisi.ControllerInfo, error)
	GetDevices(ctx context.Context) ([]livisi.Device, error)
}

type deviceReport struct {
	Controller livisi.ControllerInfo `yaml:"controller"`
	Devices    []livisi.Device       `yaml:"devices"`
}

func devices(cmd *cobra.Command, _ []string) error {
	client := livisi.New(
		viper.GetString("livisi.host"),
		viper.GetString("livisi.username"),
		viper.GetString("livisi.password"),
		livisi.WithLogger(slog.Default()),
	)
	ctx, cancel := context.WithTimeout(commandContext(cmd), time.Minute)
	defer cancel()
	return listDevices(ctx, client, cmd.OutOrStdout())
}

// listDevices writes the controller's information and its climate devices to w, in YAML.
func listDevices(ctx context.Context, client DeviceLister, w io.Writer) error {
	controller, err := client.Controller(ctx)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	all, err := client.GetDevices(ctx)
	if err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	report := deviceReport{Controller: controller, Devices: make([]livisi.Device, 0, len(all))}
	for _, d := range all {
		if climate.DeviceTypes.Contains(d.Type) {
			report.Devices = append(report.Devices, d)
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err = enc.Encode(report); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return enc.Close()
}
