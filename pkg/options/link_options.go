package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*LinkOptions)(nil)

// LinkOptions contains configuration for the vehicle-facing datagram link.
type LinkOptions struct {
	// Host is the vehicle IP address or hostname.
	Host string `json:"host" mapstructure:"host"`

	// Port is the vehicle telemetry/command UDP port.
	Port int `json:"port" mapstructure:"port"`

	// SystemID is the station system id placed in outbound frames.
	SystemID uint8 `json:"system-id" mapstructure:"system-id"`

	// ComponentID is the station component id placed in outbound frames.
	ComponentID uint8 `json:"component-id" mapstructure:"component-id"`

	// ConnectTimeout bounds how long a connect attempt waits for the first
	// vehicle heartbeat before failing.
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`

	// LivenessWindow is how long the link may go without a vehicle heartbeat
	// before it is considered degraded.
	LivenessWindow time.Duration `json:"liveness-window" mapstructure:"liveness-window"`

	// HeartbeatInterval is how often the station announces itself to the
	// vehicle.
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`

	// BackoffBase is the initial delay between reconnect attempts.
	BackoffBase time.Duration `json:"backoff-base" mapstructure:"backoff-base"`

	// BackoffMax caps the delay between reconnect attempts.
	BackoffMax time.Duration `json:"backoff-max" mapstructure:"backoff-max"`
}

// NewLinkOptions creates a LinkOptions object with default parameters.
// Defaults match the standard companion-computer setup (192.168.2.2:14550).
func NewLinkOptions() *LinkOptions {
	return &LinkOptions{
		Host:              "192.168.2.2",
		Port:              14550,
		SystemID:          255,
		ComponentID:       0,
		ConnectTimeout:    10 * time.Second,
		LivenessWindow:    5 * time.Second,
		HeartbeatInterval: time.Second,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *LinkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Host == "" {
		errors = append(errors, fmt.Errorf("link host must not be empty"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errors = append(errors, fmt.Errorf("link port %d out of range", o.Port))
	}
	if o.ConnectTimeout <= 0 {
		errors = append(errors, fmt.Errorf("connect timeout must be positive"))
	}
	if o.LivenessWindow <= 0 {
		errors = append(errors, fmt.Errorf("liveness window must be positive"))
	}
	if o.BackoffBase <= 0 || o.BackoffMax < o.BackoffBase {
		errors = append(errors, fmt.Errorf("backoff bounds invalid: base=%s max=%s", o.BackoffBase, o.BackoffMax))
	}

	return errors
}

// AddFlags adds flags related to the vehicle link to the specified FlagSet.
func (o *LinkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Host, "link.host", o.Host, "Vehicle IP address or hostname.")
	fs.IntVar(&o.Port, "link.port", o.Port, "Vehicle telemetry/command UDP port.")
	fs.Uint8Var(&o.SystemID, "link.system-id", o.SystemID, "Station system id for outbound frames.")
	fs.Uint8Var(&o.ComponentID, "link.component-id", o.ComponentID, "Station component id for outbound frames.")
	fs.DurationVar(&o.ConnectTimeout, "link.connect-timeout", o.ConnectTimeout, "How long to wait for the first vehicle heartbeat.")
	fs.DurationVar(&o.LivenessWindow, "link.liveness-window", o.LivenessWindow, "Heartbeat silence after which the link is degraded.")
	fs.DurationVar(&o.HeartbeatInterval, "link.heartbeat-interval", o.HeartbeatInterval, "Interval between station heartbeats.")
	fs.DurationVar(&o.BackoffBase, "link.backoff-base", o.BackoffBase, "Initial reconnect backoff delay.")
	fs.DurationVar(&o.BackoffMax, "link.backoff-max", o.BackoffMax, "Maximum reconnect backoff delay.")
}

// Address returns the vehicle endpoint in host:port form.
func (o *LinkOptions) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
