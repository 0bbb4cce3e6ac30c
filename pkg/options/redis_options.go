package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configures the redis key-value backend.
type RedisOptions struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`

	DialTimeout time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
}

// NewRedisOptions creates a RedisOptions with default values.
func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Addr:        "127.0.0.1:6379",
		DB:          0,
		DialTimeout: 5 * time.Second,
	}
}

func (o *RedisOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "store.redis.addr", o.Addr, "Redis server address (host:port).")
	fs.StringVar(&o.Username, "store.redis.username", o.Username, "Redis ACL username.")
	fs.StringVar(&o.Password, "store.redis.password", o.Password, "Redis password.")
	fs.IntVar(&o.DB, "store.redis.db", o.DB, "Redis logical database.")
	fs.DurationVar(&o.DialTimeout, "store.redis.dial-timeout", o.DialTimeout, "Timeout for establishing redis connections.")
}
