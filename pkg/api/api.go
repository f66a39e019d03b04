// Package api is the HTTP front end: the submission form, the
// submission endpoint, the polling status endpoint, result pages,
// trace viewer pages, and artifact serving.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/traceomatic/traceomatic/pkg/config"
	"github.com/traceomatic/traceomatic/pkg/fsutil"
	"github.com/traceomatic/traceomatic/pkg/index"
	"github.com/traceomatic/traceomatic/pkg/jobstore"
	"github.com/traceomatic/traceomatic/pkg/queue"
	"github.com/traceomatic/traceomatic/pkg/submit"
	"github.com/traceomatic/traceomatic/pkg/testid"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      *jobstore.Store
	producer   queue.Producer
	submitter  *submit.Service
	artifacts  *artifactServer
	indexStore index.Store
	indexer    index.Indexer
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new HTTP server.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start wires the components and starts the HTTP server. The indexer,
// when enabled, is started after the server is listening.
func (s *server) Start(ctx context.Context) error {
	owner, err := fsutil.ParseOwner(s.cfg.Results.Owner)
	if err != nil {
		return fmt.Errorf("parsing results owner: %w", err)
	}

	s.store = jobstore.NewStore(s.log, s.cfg.Results.Dir, owner)
	s.producer = queue.NewProducer(s.log, &s.cfg.Queue)
	s.submitter = submit.NewService(
		s.log,
		s.cfg,
		s.store,
		testid.NewGenerator(s.cfg.Results.Dir),
		s.producer,
	)
	s.artifacts = newArtifactServer(s.log, s.cfg.Results.Dir)

	if s.cfg.Indexing != nil && s.cfg.Indexing.Enabled {
		if err := s.prepareIndexing(ctx); err != nil {
			return fmt.Errorf("preparing indexing: %w", err)
		}
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("Server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	if s.indexer != nil {
		if err := s.indexer.Start(ctx); err != nil {
			return fmt.Errorf("starting indexer: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and the indexer.
func (s *server) Stop() error {
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

	if s.indexer != nil {
		if err := s.indexer.Stop(); err != nil {
			s.log.WithError(err).Warn("Indexer stop error")
		}
	}

	if s.indexStore != nil {
		if err := s.indexStore.Stop(); err != nil {
			s.log.WithError(err).Warn("Index store stop error")
		}
	}

	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.log.WithError(err).Warn("Queue producer close error")
		}
	}

	s.log.Info("Server stopped")

	return nil
}

// prepareIndexing starts the index store and creates the indexer
// without starting its background goroutine.
func (s *server) prepareIndexing(ctx context.Context) error {
	s.indexStore = index.NewStore(s.log, &s.cfg.Indexing.Database)

	if err := s.indexStore.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	var producer queue.Producer
	if s.cfg.Indexing.Requeue.Enabled {
		producer = s.producer
	}

	s.indexer = index.NewIndexer(
		s.log, s.cfg, s.indexStore, s.store, producer,
	)

	s.log.Info("Indexing service enabled")

	return nil
}
