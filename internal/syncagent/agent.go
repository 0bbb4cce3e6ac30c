// Package syncagent runs the local sync agent: the compliance dashboard API,
// the offline write queue and the connectivity source feeding both.
package syncagent

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ecofleet-io/ecofleet/internal/connectivity"
	"github.com/ecofleet-io/ecofleet/internal/dashboard"
	"github.com/ecofleet-io/ecofleet/internal/offline"
	"github.com/ecofleet-io/ecofleet/internal/pkg/kv"
	"github.com/ecofleet-io/ecofleet/internal/server"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

// Agent is the main application struct of eco-sync-agent.
type Agent struct {
	store         kv.Store
	signal        *connectivity.Signal
	queue         *offline.Queue
	reports       *dashboard.Service
	serverManager *server.Manager
	logger        log.Logger
}

// Run starts every component and blocks until ctx is done or one of them fails.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting eco-sync-agent", "pending", a.queue.State().Pending)
	defer func() {
		if err := a.store.Close(); err != nil {
			a.logger.Error(err, "Failed to close store")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.watchConnectivity(ctx)
		return nil
	})
	g.Go(func() error {
		return a.serverManager.Start(ctx)
	})

	err := g.Wait()
	a.logger.Info("eco-sync-agent stopped")
	return err
}

// watchConnectivity replays queued writes and then refreshes the dashboard
// every time the API becomes reachable.
func (a *Agent) watchConnectivity(ctx context.Context) {
	ch, cancel := a.signal.Subscribe()
	defer cancel()

	if a.signal.Online() {
		a.reconnected(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			if online {
				a.reconnected(ctx)
			}
		}
	}
}

func (a *Agent) reconnected(ctx context.Context) {
	report := a.queue.Flush(ctx)
	if !report.Skipped {
		a.logger.Info("Replayed offline writes", "committed", len(report.Committed), "failed", len(report.Failed), "terminal", report.Terminal())
	}

	if err := a.reports.Refresh(ctx); err != nil && ctx.Err() == nil {
		a.logger.Warn("Failed to refresh dashboard after reconnect", "err", err.Error())
	}
}
