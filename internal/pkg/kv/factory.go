package kv

import (
	"context"
	"fmt"

	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// New builds the backend selected by opts and scopes it to opts.Namespace.
func New(ctx context.Context, opts *options.StoreOptions) (Store, error) {
	var (
		s   Store
		err error
	)

	switch opts.Backend {
	case options.StoreMemory:
		s = NewMemory()
	case options.StoreSQLite:
		s, err = NewSQLite(opts.SQLitePath)
	case options.StoreRedis:
		s, err = NewRedis(ctx, opts.Redis)
	case options.StoreS3:
		s, err = NewS3(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	return WithPrefix(s, opts.Namespace), nil
}

type prefixed struct {
	Store
	prefix string
}

// WithPrefix returns a Store that prepends "<prefix>/" to every key. An empty
// prefix returns s unchanged.
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{Store: s, prefix: prefix + "/"}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.Store.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.prefix+key)
}
