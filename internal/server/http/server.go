package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/internal/dashboard"
	"github.com/ecofleet-io/ecofleet/internal/offline"
	"github.com/ecofleet-io/ecofleet/internal/pkg/metrics"
	middleware "github.com/ecofleet-io/ecofleet/internal/pkg/middleware/http"
	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// Reports serves compliance figures. *dashboard.Service implements it.
type Reports interface {
	Compliance(ctx context.Context, period compliance.Period) (*dashboard.Report, error)
	Office(ctx context.Context, officeID string, period compliance.Period) (dashboard.OfficeCompliance, error)
}

// WriteQueue is the part of *offline.Queue exposed over HTTP.
type WriteQueue interface {
	State() offline.QueueState
	List() []*offline.PendingWriteIntent
	Flush(ctx context.Context) offline.FlushReport
	Submit(ctx context.Context, in *offline.PendingWriteIntent) (*offline.SubmitResult, error)
	Retry(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error
}

// Connectivity reports whether the upstream API is reachable.
type Connectivity interface {
	Online() bool
}

// Server is the local JSON API used by the browser UI.
type Server struct {
	server  *http.Server
	options *options.HttpOptions

	reports Reports
	queue   WriteQueue
	conn    Connectivity
	now     func() time.Time
	logger  log.Logger
}

func NewServer(opts *options.HttpOptions, reports Reports, queue WriteQueue, conn Connectivity) *Server {
	s := &Server{
		options: opts,
		reports: reports,
		queue:   queue,
		conn:    conn,
		now:     time.Now,
		logger:  log.WithName("http"),
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.Timeout,
		WriteTimeout:      opts.Timeout,
	}
	return s
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.logger), middleware.Timeout(s.options.Timeout))

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Ready once the queue state has been loaded, which happens before the server is built.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/compliance", s.handleCompliance).Methods(http.MethodGet)
	api.HandleFunc("/compliance/offices/{id}", s.handleOffice).Methods(http.MethodGet)
	api.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)
	api.HandleFunc("/queue/flush", s.handleFlush).Methods(http.MethodPost)
	api.HandleFunc("/queue/intents", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/queue/intents/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	api.HandleFunc("/queue/intents/{id}", s.handleDiscard).Methods(http.MethodDelete)
	api.HandleFunc("/connectivity", s.handleConnectivity).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen(s.options.Network, s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
