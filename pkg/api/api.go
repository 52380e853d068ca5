package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/testcycle/pkg/api/store"
	"github.com/ethpandaops/testcycle/pkg/config"
	"github.com/ethpandaops/testcycle/pkg/lifecycle"
	"github.com/ethpandaops/testcycle/pkg/metrics"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupTimeout  = time.Minute
)

// Server is the testcycle HTTP API.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	lcCfg      config.LifecycleConfig
	store      store.Store
	controller *lifecycle.Controller
	registry   *prometheus.Registry
	scheduler  *cron.Cron
	httpServer *http.Server
	throttles  []*throttle
	wg         sync.WaitGroup
}

// NewServer returns a server for cfg. Nothing is opened until Start.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return newServer(log, cfg)
}

func newServer(log logrus.FieldLogger, cfg *config.Config) *server {
	return &server{
		log:   log.WithField("component", "api"),
		cfg:   &cfg.API,
		lcCfg: cfg.Lifecycle,
	}
}

// Start opens the store, syncs accounts and memberships from config and
// serves HTTP in the background.
func (s *server) Start(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.startHousekeeping(); err != nil {
		return err
	}

	// Listen before returning so a taken port fails Start.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// setup opens the store, syncs users and memberships from config and
// builds the lifecycle controller.
func (s *server) setup(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if s.cfg.Auth.Basic.Enabled {
		if err := s.store.SyncUsers(ctx, s.cfg.Auth.Basic.Users); err != nil {
			return fmt.Errorf("syncing users: %w", err)
		}
	}

	if len(s.cfg.Memberships) > 0 {
		if err := s.store.SeedMemberships(
			ctx, s.cfg.Memberships,
		); err != nil {
			return fmt.Errorf("seeding memberships: %w", err)
		}
	}

	var sink metrics.Sink = metrics.NewNoopSink()

	if s.cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		sink = metrics.NewPrometheusSink(s.log, s.registry)
	}

	s.controller = lifecycle.NewController(
		s.log, s.lcCfg, s.store, s.store, sink,
	)

	return nil
}

// startHousekeeping schedules the purge of expired sessions and the sweep
// of idle rate limit buckets.
func (s *server) startHousekeeping() error {
	s.scheduler = cron.New()

	if _, err := s.scheduler.AddFunc(
		s.cfg.Auth.CleanupSchedule, s.purgeSessions,
	); err != nil {
		return fmt.Errorf("scheduling cleanup %q: %w",
			s.cfg.Auth.CleanupSchedule, err)
	}

	if len(s.throttles) > 0 {
		s.scheduler.Schedule(cron.Every(throttleIdle/2), cron.FuncJob(s.sweepThrottles))
	}

	s.scheduler.Start()

	s.log.WithField("schedule", s.cfg.Auth.CleanupSchedule).
		Debug("Housekeeping scheduled")

	return nil
}

func (s *server) purgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	n, err := s.store.PurgeSessions(ctx, time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Warn("Failed to purge expired sessions")

		return
	}

	if n > 0 {
		s.log.WithField("count", n).Debug("Purged expired sessions")
	}
}

func (s *server) sweepThrottles() {
	cutoff := time.Now().Add(-throttleIdle)

	for _, t := range s.throttles {
		t.sweep(cutoff)
	}
}

// Stop halts housekeeping, drains HTTP and background work, then closes
// the store.
func (s *server) Stop() error {
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
