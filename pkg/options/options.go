package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions is the contract every option group satisfies so the command line
// layer can treat them uniformly.
type IOptions interface {
	// Validate checks the user-supplied values and returns every problem
	// found, not just the first one.
	Validate() []error

	// AddFlags binds the option fields to command-line flags.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a valid "host:port" string.
func ValidateAddress(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}
