package options

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/k-laboratory/rovlink/internal/bridge"
	"github.com/k-laboratory/rovlink/pkg/log"
	"github.com/k-laboratory/rovlink/pkg/options"
)

// BridgeOptions aggregates every option group of the bridge binary.
type BridgeOptions struct {
	LinkOptions    *options.LinkOptions    `json:"link" mapstructure:"link"`
	HubOptions     *options.HubOptions     `json:"hub" mapstructure:"hub"`
	CommandOptions *options.CommandOptions `json:"command" mapstructure:"command"`
	VideoOptions   *options.VideoOptions   `json:"video" mapstructure:"video"`
	HttpOptions    *options.HttpOptions    `json:"http" mapstructure:"http"`
	MqttOptions    *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	Log            *log.Options            `json:"log" mapstructure:"log"`
}

func NewBridgeOptions() *BridgeOptions {
	return &BridgeOptions{
		LinkOptions:    options.NewLinkOptions(),
		HubOptions:     options.NewHubOptions(),
		CommandOptions: options.NewCommandOptions(),
		VideoOptions:   options.NewVideoOptions(),
		HttpOptions:    options.NewHttpOptions(),
		MqttOptions:    options.NewMqttOptions(),
		Log:            log.NewOptions(),
	}
}

// AddFlags registers all option groups on the command's flag set.
func (o *BridgeOptions) AddFlags(fs *pflag.FlagSet) {
	o.LinkOptions.AddFlags(fs)
	o.HubOptions.AddFlags(fs)
	o.CommandOptions.AddFlags(fs)
	o.VideoOptions.AddFlags(fs)
	o.HttpOptions.AddFlags(fs)
	o.MqttOptions.AddFlags(fs)
	o.Log.AddFlags(fs)
}

func (o *BridgeOptions) Complete() error {
	return nil
}

func (o *BridgeOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.LinkOptions.Validate()...)
	errs = append(errs, o.HubOptions.Validate()...)
	errs = append(errs, o.CommandOptions.Validate()...)
	errs = append(errs, o.VideoOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

func (o *BridgeOptions) Config() (*bridge.Config, error) {
	return &bridge.Config{
		LinkOptions:    o.LinkOptions,
		HubOptions:     o.HubOptions,
		CommandOptions: o.CommandOptions,
		VideoOptions:   o.VideoOptions,
		HttpOptions:    o.HttpOptions,
		MqttOptions:    o.MqttOptions,
	}, nil
}
