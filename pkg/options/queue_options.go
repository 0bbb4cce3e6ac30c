package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*QueueOptions)(nil)

// QueueOptions tunes replay of the offline write queue.
type QueueOptions struct {
	// Concurrency bounds how many independent resources replay at once.
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`

	// MaxAttempts is the retry ceiling before an intent becomes terminal.
	MaxAttempts int `json:"max-attempts" mapstructure:"max-attempts"`

	// RequestTimeout bounds a single replayed request.
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`

	// ReplayRate limits replayed requests per second. Zero disables pacing.
	ReplayRate float64 `json:"replay-rate" mapstructure:"replay-rate"`

	// ReplayBurst is the token bucket size used with ReplayRate.
	ReplayBurst int `json:"replay-burst" mapstructure:"replay-burst"`

	// RetryInterval flushes pending intents periodically while online.
	// Zero disables the periodic flush.
	RetryInterval time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
}

// NewQueueOptions creates a QueueOptions with default values.
func NewQueueOptions() *QueueOptions {
	return &QueueOptions{
		Concurrency:    4,
		MaxAttempts:    5,
		RequestTimeout: 20 * time.Second,
		ReplayRate:     10,
		ReplayBurst:    4,
		RetryInterval:  time.Minute,
	}
}

func (o *QueueOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Concurrency < 1 {
		errors = append(errors, fmt.Errorf("--queue.concurrency must be at least 1"))
	}
	if o.MaxAttempts < 1 {
		errors = append(errors, fmt.Errorf("--queue.max-attempts must be at least 1"))
	}
	if o.RequestTimeout <= 0 {
		errors = append(errors, fmt.Errorf("--queue.request-timeout must be positive"))
	}
	if o.ReplayRate < 0 {
		errors = append(errors, fmt.Errorf("--queue.replay-rate must not be negative"))
	}
	if o.ReplayRate > 0 && o.ReplayBurst < 1 {
		errors = append(errors, fmt.Errorf("--queue.replay-burst must be at least 1 when pacing is enabled"))
	}

	return errors
}

func (o *QueueOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.Concurrency, "queue.concurrency", o.Concurrency, "Maximum number of resources replayed concurrently.")
	fs.IntVar(&o.MaxAttempts, "queue.max-attempts", o.MaxAttempts, "Replay attempts before an intent needs manual action.")
	fs.DurationVar(&o.RequestTimeout, "queue.request-timeout", o.RequestTimeout, "Timeout for a single replayed request.")
	fs.Float64Var(&o.ReplayRate, "queue.replay-rate", o.ReplayRate, "Replayed requests per second (0 disables pacing).")
	fs.IntVar(&o.ReplayBurst, "queue.replay-burst", o.ReplayBurst, "Burst size for replay pacing.")
	fs.DurationVar(&o.RetryInterval, "queue.retry-interval", o.RetryInterval, "Interval of the background flush while online (0 disables it).")
}
