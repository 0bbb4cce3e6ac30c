// Package dashboard serves compliance reports, live when the API is
// reachable and from the snapshot cache otherwise.
package dashboard

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/internal/pkg/metrics"
	"github.com/ecofleet-io/ecofleet/internal/snapshot"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

// ErrOfficeNotFound is returned by Office for an unknown office id.
var ErrOfficeNotFound = errors.New("office not found")

// Fetcher reads API data. *apiclient.Client implements it.
type Fetcher interface {
	ListVehicles(ctx context.Context) ([]compliance.Vehicle, error)
	ListOffices(ctx context.Context) ([]compliance.Office, error)
	ListTests(ctx context.Context, year int) ([]compliance.EmissionTest, error)
}

// Connectivity reports whether the API is reachable.
type Connectivity interface {
	Online() bool
}

type Service struct {
	fetcher Fetcher
	cache   *snapshot.Cache
	guard   *snapshot.Guard
	conn    Connectivity
	clock   clock.PassiveClock
	logger  log.Logger

	mu         sync.Mutex
	lastPeriod *compliance.Period
}

func NewService(fetcher Fetcher, cache *snapshot.Cache, guard *snapshot.Guard, conn Connectivity, clk clock.PassiveClock) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if guard == nil {
		guard = snapshot.NewGuard()
	}
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		guard:   guard,
		conn:    conn,
		clock:   clk,
		logger:  log.WithName("dashboard"),
	}
}

// Compliance returns the report of period. An invalid period is returned as
// *compliance.ValidationError.
func (s *Service) Compliance(ctx context.Context, period compliance.Period) (*Report, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	s.remember(period)

	ds, source, err := s.load(ctx, period, false)
	if err != nil {
		return nil, err
	}
	metrics.SnapshotRefreshTotal.WithLabelValues(string(source)).Inc()

	if ds == nil {
		return &Report{
			Period:  period,
			Offices: []OfficeCompliance{},
			Source:  SourceUnavailable,
			Reason:  "no data has been loaded for this period yet",
		}, nil
	}

	rows, err := compliance.ComputeAll(ds.Vehicles, ds.Offices, period)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Period:    period,
		Offices:   make([]OfficeCompliance, 0, len(rows)),
		Fleet:     compliance.ComputeFleetSummary(rows),
		Source:    source,
		Stale:     source == SourceCache,
		FetchedAt: ds.FetchedAt,
	}
	for _, r := range rows {
		report.Offices = append(report.Offices, NewOfficeCompliance(
			compliance.OfficeRef{ID: r.OfficeID, Name: r.OfficeName},
			compliance.Computed{Stats: r},
		))
	}
	return report, nil
}

// Office returns the compliance of one office. Missing data is reported as
// unavailable rather than as zero figures.
func (s *Service) Office(ctx context.Context, officeID string, period compliance.Period) (OfficeCompliance, error) {
	if err := period.Validate(); err != nil {
		return OfficeCompliance{}, err
	}

	ds, _, err := s.load(ctx, period, false)
	if err != nil {
		return OfficeCompliance{}, err
	}
	if ds == nil {
		ref := compliance.OfficeRef{ID: officeID}
		return NewOfficeCompliance(ref, compliance.Unavailable{Reason: "no data has been loaded for this period yet"}), nil
	}

	for _, o := range ds.Offices {
		if o.ID == officeID {
			return NewOfficeCompliance(o.Ref(), compliance.Evaluate(ds.Vehicles, o.Ref(), period)), nil
		}
	}
	return OfficeCompliance{}, ErrOfficeNotFound
}

// Refresh re-reads the most recently requested period, or the current
// quarter, from the API. It is called after connectivity returns.
func (s *Service) Refresh(ctx context.Context) error {
	period := compliance.CurrentPeriod(s.clock.Now())

	s.mu.Lock()
	if s.lastPeriod != nil {
		period = *s.lastPeriod
	}
	s.mu.Unlock()

	_, _, err := s.load(ctx, period, true)
	return err
}

func (s *Service) remember(p compliance.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPeriod = &p
}

// load returns the dataset of period with optimistic records merged and the
// latest tests applied. A nil dataset means nothing is available. With
// force, fetch errors are returned instead of falling back to the cache.
func (s *Service) load(ctx context.Context, period compliance.Period, force bool) (*snapshot.Dataset, Source, error) {
	key := period.Key()

	if force || s.conn == nil || s.conn.Online() {
		ds, err := s.fetchAndStore(ctx, key, period)
		switch {
		case err == nil:
			return s.prepare(ctx, ds, SourceLive)
		case force || !apiclient.IsRetryable(err):
			return nil, "", err
		}
		s.logger.Info("Live read failed, serving cached snapshot", "period", key, "error", err.Error())
	}

	ds, ok, err := s.cache.Load(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, SourceUnavailable, nil
	}
	return s.prepare(ctx, ds, SourceCache)
}

func (s *Service) prepare(ctx context.Context, ds *snapshot.Dataset, source Source) (*snapshot.Dataset, Source, error) {
	merged, err := s.cache.WithOptimistic(ctx, ds)
	if err != nil {
		return nil, "", err
	}
	merged.Vehicles = compliance.ApplyLatestTests(merged.Vehicles, merged.Tests)
	return merged, source, nil
}

// fetchAndStore reads the three collections concurrently and saves them
// unless a newer read of the same period started meanwhile.
func (s *Service) fetchAndStore(ctx context.Context, key string, period compliance.Period) (*snapshot.Dataset, error) {
	ticket := s.guard.Begin(key)

	ds := &snapshot.Dataset{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ds.Vehicles, err = s.fetcher.ListVehicles(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.Offices, err = s.fetcher.ListOffices(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.Tests, err = s.fetcher.ListTests(gctx, period.Year)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ds.FetchedAt = s.clock.Now()

	committed, err := s.guard.Commit(ticket, func() error {
		return s.cache.Save(ctx, key, ds)
	})
	switch {
	case err != nil:
		s.logger.Error(err, "Failed to cache snapshot", "period", key)
	case !committed:
		s.logger.Debug("Discarding superseded read", "period", key)
	}

	return ds, nil
}
