// Package api serves the slot calculator, the topology planner and the slot
// registry over HTTP for provisioning tools that run out of process.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/keyslot/internal/coordinator"
	"github.com/dreamware/keyslot/internal/topology"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 5 * time.Second

	// maxBodyBytes bounds request bodies; a 16384-owner blueprint is ~6MB of JSON.
	maxBodyBytes = 16 << 20
)

type Options struct {
	Logger *zap.Logger

	// LogLevel, when set, is exposed for reading and changing at /log/level.
	LogLevel *zap.AtomicLevel

	// Registry answers /locate and /assignments. Defaults to an empty registry.
	Registry *coordinator.SlotRegistry

	// Planner serves /topology. Defaults to a planner with UUID node IDs.
	Planner *topology.Planner

	// Owners is the owner count planned when /topology has no owners parameter.
	Owners int

	// Registerer receives the API collectors. Defaults to a private registry so
	// several servers can coexist in one process.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type Server struct {
	logger   *zap.Logger
	logLevel *zap.AtomicLevel
	registry *coordinator.SlotRegistry
	planner  *topology.Planner
	owners   int
	metrics  *Metrics
	gatherer prometheus.Gatherer
}

func NewServer(opts Options) *Server {
	s := &Server{
		logger:   opts.Logger,
		logLevel: opts.LogLevel,
		registry: opts.Registry,
		planner:  opts.Planner,
		owners:   opts.Owners,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.registry == nil {
		s.registry = coordinator.NewSlotRegistry(s.logger)
	}
	if s.planner == nil {
		s.planner = topology.NewPlanner(topology.PlannerOptions{Logger: s.logger})
	}
	if s.owners == 0 {
		s.owners = topology.RecommendedOwners
	}

	reg, gatherer := opts.Registerer, opts.Gatherer
	if reg == nil {
		private := prometheus.NewRegistry()
		reg, gatherer = private, private
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.metrics = NewMetrics(reg)
	s.gatherer = gatherer
	return s
}

// Metrics returns the collectors the server updates.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the chi router with every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.logLevel != nil {
		r.Handle("/log/level", s.logLevel)
	}

	r.Get("/slots/*", s.handleSlot)
	r.Post("/slots", s.handleSlots)
	r.Post("/colocation", s.handleColocation)

	r.Get("/topology", s.handlePlan)
	r.Put("/topology", s.handleLoad)
	r.Post("/topology/validate", s.handleValidate)

	r.Get("/locate/*", s.handleLocate)
	r.Get("/assignments", s.handleAssignments)
	r.Post("/assignments", s.handleAssign)

	return r
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully, giving in-flight requests five seconds to finish. It returns nil
// after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "api server stopped")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shutdown api server")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server stopped")
	}

	s.logger.Info("api stopped")
	return nil
}
