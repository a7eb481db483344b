package app

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/k-laboratory/rovlink/cmd/rovlink-bridge/app/options"
	"github.com/k-laboratory/rovlink/pkg/log"
)

const (
	commandName = "rovlink-bridge"
	commandDesc = `The rovlink bridge keeps a datagram link to a remote underwater vehicle,
decodes its telemetry into a shore-side state snapshot, and exposes that
snapshot plus a command channel over HTTP, websocket and optionally MQTT.`

	envPrefix = "ROVLINK"
)

// NewBridgeCommand builds the root cobra command for the bridge binary.
func NewBridgeCommand() *cobra.Command {
	opts := options.NewBridgeOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Launch the rovlink vehicle bridge",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, configFile, opts); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := opts.Complete(); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the bridge configuration file.")
	opts.AddFlags(cmd.Flags())
	return cmd
}

// loadConfig merges config file and environment values into opts. Flag values
// set explicitly on the command line take precedence.
func loadConfig(cmd *cobra.Command, configFile string, opts *options.BridgeOptions) error {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.Unmarshal(opts)
}

func run(opts *options.BridgeOptions) error {
	log.Init(opts.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to build configuration: %w", err)
	}

	bridge, err := cfg.NewBridge()
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	return bridge.Run(ctx)
}
