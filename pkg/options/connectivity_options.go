package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ConnectivityOptions)(nil)

// Connectivity sources.
const (
	ConnectivityProbe = "probe"
	ConnectivityMQTT  = "mqtt"
)

// ConnectivityOptions selects where online/offline transitions come from.
type ConnectivityOptions struct {
	// Source is probe (poll the API health endpoint) or mqtt (retained status topic).
	Source string `json:"source" mapstructure:"source"`

	// ProbeInterval is the polling period of the probe source.
	ProbeInterval time.Duration `json:"probe-interval" mapstructure:"probe-interval"`

	// ProbeTimeout bounds one health probe.
	ProbeTimeout time.Duration `json:"probe-timeout" mapstructure:"probe-timeout"`

	// FailureThreshold is the number of consecutive failed probes before going offline.
	FailureThreshold int `json:"failure-threshold" mapstructure:"failure-threshold"`
}

func NewConnectivityOptions() *ConnectivityOptions {
	return &ConnectivityOptions{
		Source:           ConnectivityProbe,
		ProbeInterval:    10 * time.Second,
		ProbeTimeout:     3 * time.Second,
		FailureThreshold: 2,
	}
}

func (o *ConnectivityOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	switch o.Source {
	case ConnectivityProbe:
		if o.ProbeInterval <= 0 || o.ProbeTimeout <= 0 {
			errors = append(errors, fmt.Errorf("--connectivity.probe-interval and --connectivity.probe-timeout must be positive"))
		}
		if o.FailureThreshold < 1 {
			errors = append(errors, fmt.Errorf("--connectivity.failure-threshold must be at least 1"))
		}
	case ConnectivityMQTT:
	default:
		errors = append(errors, fmt.Errorf("--connectivity.source %q is not one of probe, mqtt", o.Source))
	}

	return errors
}

func (o *ConnectivityOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Source, "connectivity.source", o.Source, "Source of online/offline events (probe or mqtt).")
	fs.DurationVar(&o.ProbeInterval, "connectivity.probe-interval", o.ProbeInterval, "Interval between API health probes.")
	fs.DurationVar(&o.ProbeTimeout, "connectivity.probe-timeout", o.ProbeTimeout, "Timeout of a single API health probe.")
	fs.IntVar(&o.FailureThreshold, "connectivity.failure-threshold", o.FailureThreshold, "Consecutive failed probes before reporting offline.")
}
