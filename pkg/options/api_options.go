package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*APIOptions)(nil)

// APIOptions describes the upstream REST API the agent reads from and
// replays writes against.
type APIOptions struct {
	// BaseURL is the scheme and host of the API, e.g. https://api.ecofleet.gov.
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// Token is sent as a bearer token when not empty.
	Token string `json:"token" mapstructure:"token"`

	// Timeout bounds every read request.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// HealthPath is probed to decide whether the API is reachable.
	HealthPath string `json:"health-path" mapstructure:"health-path"`
}

// NewAPIOptions creates an APIOptions with default values.
func NewAPIOptions() *APIOptions {
	return &APIOptions{
		BaseURL:    "http://127.0.0.1:8080",
		Timeout:    20 * time.Second,
		HealthPath: "/healthz",
	}
}

// Validate checks the base url and timeout.
func (o *APIOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	u, err := url.Parse(o.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Errorf("--api.base-url %q must be an absolute url", o.BaseURL))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--api.timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags for APIOptions to the specified FlagSet.
func (o *APIOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.BaseURL, "api.base-url", o.BaseURL, "Base URL of the ecofleet REST API.")
	fs.StringVar(&o.Token, "api.token", o.Token, "Bearer token used for API requests.")
	fs.DurationVar(&o.Timeout, "api.timeout", o.Timeout, "Timeout applied to every API request.")
	fs.StringVar(&o.HealthPath, "api.health-path", o.HealthPath, "Path probed to detect API reachability.")
}
