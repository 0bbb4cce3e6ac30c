package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ecofleet-io/ecofleet/internal/server/http"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

// Server defines the common interface for everything the manager runs.
type Server interface {
	Start(ctx context.Context) error
}

// ServerFunc adapts a blocking run function to Server.
type ServerFunc func(ctx context.Context) error

func (f ServerFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager manages the lifecycle of the HTTP server and the background loops.
type Manager struct {
	servers []Server
}

// NewManager creates the HTTP server from cfg; extra servers run alongside it.
func NewManager(cfg *Config, extra ...Server) *Manager {
	servers := []Server{http.NewServer(cfg.HttpOptions, cfg.Reports, cfg.Queue, cfg.Connectivity)}
	servers = append(servers, extra...)

	return &Manager{
		servers: servers,
	}
}

// Start launches all servers in parallel and waits for termination. The first
// error cancels the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range m.servers {
		g.Go(func() error {
			return s.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
