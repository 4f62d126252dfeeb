package cli

import (
	"context"
	"errors"
	"github.com/clambin/go-common/charmer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log/slog"
	"os"
	"time"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "livisi-climate",
		Short: "Exposes the climate controls of a LIVISI SmartHome Controller",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			charmer.SetJSONLogger(cmd, viper.GetBool("debug"))
		},
	}
	runCmd = cobra.Command{
		Use:   "run",
		Short: "Publish the controller's climates to Prometheus, MQTT and Slack",
		RunE:  run,
	}
	devicesCmd = cobra.Command{
		Use:   "devices",
		Short: "List the controller's climate devices",
		RunE:  devices,
	}
)

var arguments = charmer.Arguments{
	"debug":                charmer.Argument{Default: false, Help: "Log debug messages"},
	"livisi.host":          charmer.Argument{Default: "", Help: "Hostname or IP address of the SmartHome Controller"},
	"livisi.username":      charmer.Argument{Default: "admin", Help: "SmartHome Controller username"},
	"livisi.password":      charmer.Argument{Default: "", Help: "SmartHome Controller password"},
	"poller.interval":      charmer.Argument{Default: 30 * time.Second, Help: "Interval to poll the controller's devices"},
	"events.reconnect":     charmer.Argument{Default: 10 * time.Second, Help: "Delay before reconnecting to the controller's event stream"},
	"exporter.addr":        charmer.Argument{Default: ":9090", Help: "Address of Prometheus exporter"},
	"health.addr":          charmer.Argument{Default: ":8080", Help: "Address of /health endpoint"},
	"mqtt.broker":          charmer.Argument{Default: "", Help: "MQTT broker URL (e.g. tcp://localhost:1883). Leave empty to disable MQTT"},
	"mqtt.username":        charmer.Argument{Default: "", Help: "MQTT username"},
	"mqtt.password":        charmer.Argument{Default: "", Help: "MQTT password"},
	"mqtt.discoveryPrefix": charmer.Argument{Default: "homeassistant", Help: "MQTT discovery prefix"},
	"mqtt.baseTopic":       charmer.Argument{Default: "livisi", Help: "MQTT base topic"},
	"slack.token":          charmer.Argument{Default: "", Help: "Slack token. Leave empty to disable the Slack bot"},
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	if err := charmer.SetPersistentFlags(&RootCmd, viper.GetViper(), arguments); err != nil {
		panic("failed to set flags: " + err.Error())
	}
	RootCmd.AddCommand(&runCmd, &devicesCmd)
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/livisi-climate/")
		viper.AddConfigPath("$HOME/.livisi-climate")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), arguments); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("LIVISI_CLIMATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", "err", err)
			os.Exit(1)
		}
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
