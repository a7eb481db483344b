package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*VideoOptions)(nil)

// VideoOptions contains configuration for the video stream registry.
type VideoOptions struct {
	// Expiry is how long a registered stream stays listed without a refresh.
	Expiry time.Duration `json:"expiry" mapstructure:"expiry"`
}

// NewVideoOptions creates a VideoOptions object with default parameters.
func NewVideoOptions() *VideoOptions {
	return &VideoOptions{
		Expiry: 30 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *VideoOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Expiry <= 0 {
		errors = append(errors, fmt.Errorf("stream expiry must be positive"))
	}

	return errors
}

// AddFlags adds flags related to the video stream registry to the specified FlagSet.
func (o *VideoOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Expiry, "video.expiry", o.Expiry, "How long a stream stays listed without a refresh.")
}
