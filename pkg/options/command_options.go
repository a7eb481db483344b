package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*CommandOptions)(nil)

// CommandOptions contains configuration for the command dispatcher.
type CommandOptions struct {
	// AckTimeout is how long a sent command waits for a vehicle
	// acknowledgment before it is marked timed out.
	AckTimeout time.Duration `json:"ack-timeout" mapstructure:"ack-timeout"`

	// Retention is how long terminal command records are kept for polling
	// before garbage collection.
	Retention time.Duration `json:"retention" mapstructure:"retention"`

	// RateLimitRPS throttles command submissions over the API. Zero disables
	// the limiter.
	RateLimitRPS float64 `json:"rate-limit-rps" mapstructure:"rate-limit-rps"`

	// RateLimitBurst is the burst size allowed by the submission limiter.
	RateLimitBurst int `json:"rate-limit-burst" mapstructure:"rate-limit-burst"`
}

// NewCommandOptions creates a CommandOptions object with default parameters.
func NewCommandOptions() *CommandOptions {
	return &CommandOptions{
		AckTimeout:     3 * time.Second,
		Retention:      5 * time.Minute,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *CommandOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.AckTimeout <= 0 {
		errors = append(errors, fmt.Errorf("ack timeout must be positive"))
	}
	if o.Retention <= 0 {
		errors = append(errors, fmt.Errorf("retention must be positive"))
	}
	if o.RateLimitRPS < 0 {
		errors = append(errors, fmt.Errorf("rate limit rps must not be negative"))
	}
	if o.RateLimitRPS > 0 && o.RateLimitBurst <= 0 {
		errors = append(errors, fmt.Errorf("rate limit burst must be positive when rate limiting is enabled"))
	}

	return errors
}

// AddFlags adds flags related to command dispatch to the specified FlagSet.
func (o *CommandOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.AckTimeout, "command.ack-timeout", o.AckTimeout, "How long a sent command waits for an acknowledgment.")
	fs.DurationVar(&o.Retention, "command.retention", o.Retention, "How long terminal command records are kept for polling.")
	fs.Float64Var(&o.RateLimitRPS, "command.rate-limit-rps", o.RateLimitRPS, "Command submissions allowed per second (0 disables).")
	fs.IntVar(&o.RateLimitBurst, "command.rate-limit-burst", o.RateLimitBurst, "Burst size for the command submission limiter.")
}
