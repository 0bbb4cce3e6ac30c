package connectivity

import (
	"context"
	"errors"

	"k8s.io/utils/clock"

	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// Pinger checks API reachability. *apiclient.Client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls the API health endpoint and drives a Signal. The API is
// reported offline after FailureThreshold consecutive failures and online
// after the first success.
type Prober struct {
	pinger Pinger
	signal *Signal
	opts   *options.ConnectivityOptions
	clock  clock.WithTicker
	logger log.Logger

	failures int
}

func NewProber(pinger Pinger, signal *Signal, opts *options.ConnectivityOptions, clk clock.WithTicker) *Prober {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Prober{
		pinger: pinger,
		signal: signal,
		opts:   opts,
		clock:  clk,
		logger: log.WithName("prober"),
	}
}

// Run probes immediately and then every ProbeInterval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := p.clock.NewTicker(p.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			p.Probe(ctx)
		}
	}
}

// Probe performs one health check and updates the signal. It is not safe
// for concurrent use; Run calls it from a single goroutine.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if reachable(err) {
		p.failures = 0
		p.signal.Set(true)
		return true
	}

	p.failures++
	p.logger.Debug("Health probe failed", "failures", p.failures, "error", err.Error())
	if p.failures >= p.opts.FailureThreshold {
		p.signal.Set(false)
	}
	return false
}

// reachable treats a 4xx answer as reachable: the server responded, it just
// did not like the probe.
func reachable(err error) bool {
	if err == nil {
		return true
	}
	var rejected *apiclient.ServerRejectedError
	return errors.As(err, &rejected)
}
