package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HubOptions)(nil)

// HubOptions contains configuration for the snapshot fan-out hub.
type HubOptions struct {
	// QueueDepth sizes each subscriber's outbound queue. Snapshots are full
	// state, so older undelivered entries are superseded rather than
	// backlogged regardless of depth.
	QueueDepth int `json:"queue-depth" mapstructure:"queue-depth"`

	// BroadcastTick is the fixed interval at which the hub re-broadcasts the
	// current snapshot even when no new telemetry has arrived. This is also
	// where per-field staleness gets recomputed and pushed.
	BroadcastTick time.Duration `json:"broadcast-tick" mapstructure:"broadcast-tick"`

	// WriteTimeout bounds a single transport write to one subscriber. A
	// subscriber that stalls past it is evicted.
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	// StalenessThreshold is the age past which a telemetry field is flagged
	// stale in broadcast snapshots.
	StalenessThreshold time.Duration `json:"staleness-threshold" mapstructure:"staleness-threshold"`
}

// NewHubOptions creates a HubOptions object with default parameters.
func NewHubOptions() *HubOptions {
	return &HubOptions{
		QueueDepth:         4,
		BroadcastTick:      200 * time.Millisecond,
		WriteTimeout:       5 * time.Second,
		StalenessThreshold: 3 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HubOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.QueueDepth <= 0 {
		errors = append(errors, fmt.Errorf("queue depth must be positive"))
	}
	if o.BroadcastTick <= 0 {
		errors = append(errors, fmt.Errorf("broadcast tick must be positive"))
	}
	if o.WriteTimeout <= 0 {
		errors = append(errors, fmt.Errorf("write timeout must be positive"))
	}
	if o.StalenessThreshold <= 0 {
		errors = append(errors, fmt.Errorf("staleness threshold must be positive"))
	}

	return errors
}

// AddFlags adds flags related to the subscription hub to the specified FlagSet.
func (o *HubOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.QueueDepth, "hub.queue-depth", o.QueueDepth, "Per-subscriber outbound queue depth.")
	fs.DurationVar(&o.BroadcastTick, "hub.broadcast-tick", o.BroadcastTick, "Fixed snapshot re-broadcast interval.")
	fs.DurationVar(&o.WriteTimeout, "hub.write-timeout", o.WriteTimeout, "Per-subscriber transport write timeout.")
	fs.DurationVar(&o.StalenessThreshold, "hub.staleness-threshold", o.StalenessThreshold, "Field age past which telemetry is flagged stale.")
}
