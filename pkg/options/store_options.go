package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StoreOptions)(nil)

// Supported key-value backends for the snapshot cache and the write queue.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreS3     = "s3"
)

// StoreOptions selects and configures the local key-value persistence.
type StoreOptions struct {
	// Backend is one of memory, sqlite, redis or s3.
	Backend string `json:"backend" mapstructure:"backend"`

	// Namespace prefixes every key so several agents can share a backend.
	Namespace string `json:"namespace" mapstructure:"namespace"`

	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `json:"sqlite-path" mapstructure:"sqlite-path"`

	Redis *RedisOptions `json:"redis" mapstructure:"redis"`
	S3    *S3Options    `json:"s3" mapstructure:"s3"`
}

// NewStoreOptions creates a StoreOptions with default values.
func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		Backend:    StoreSQLite,
		Namespace:  "ecofleet",
		SQLitePath: "data/ecofleet.db",
		Redis:      NewRedisOptions(),
		S3:         NewS3Options(),
	}
}

// Validate checks the backend name and the options of the selected backend.
func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	switch o.Backend {
	case StoreMemory:
	case StoreSQLite:
		if o.SQLitePath == "" {
			errors = append(errors, fmt.Errorf("--store.sqlite-path is required for the sqlite backend"))
		}
	case StoreRedis:
		errors = append(errors, o.Redis.Validate()...)
	case StoreS3:
		errors = append(errors, o.S3.Validate()...)
	default:
		errors = append(errors, fmt.Errorf("--store.backend %q is not one of memory, sqlite, redis, s3", o.Backend))
	}

	return errors
}

// AddFlags adds flags for StoreOptions and its backends to the specified FlagSet.
func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Backend, "store.backend", o.Backend, "Key-value backend for the snapshot cache and write queue (memory, sqlite, redis, s3).")
	fs.StringVar(&o.Namespace, "store.namespace", o.Namespace, "Prefix applied to every stored key.")
	fs.StringVar(&o.SQLitePath, "store.sqlite-path", o.SQLitePath, "Database file for the sqlite backend.")

	o.Redis.AddFlags(fs)
	o.S3.AddFlags(fs)
}
