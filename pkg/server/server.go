package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/adfharrison1/go-batch/pkg/api"
	"github.com/adfharrison1/go-batch/pkg/batch"
	"github.com/adfharrison1/go-batch/pkg/config"
	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/logging"
	"github.com/adfharrison1/go-batch/pkg/storage"
	"github.com/adfharrison1/go-batch/pkg/storage/pebblestore"
	"github.com/adfharrison1/go-batch/pkg/storage/pgstore"
)

// PebbleDirName is the pebble database directory created under the data dir
const PebbleDirName = "go-batch.pebble"

// Server holds references to storage, the job engine and the router
type Server struct {
	cfg        *config.Config
	router     *mux.Router
	store      domain.Store
	dispatcher *batch.Dispatcher
	httpServer *http.Server
	logger     zerolog.Logger
}

// OpenStore opens the configured storage backend. A memory store is restored
// from its snapshot file and starts its background snapshot worker.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (domain.Store, error) {
	storeLogger := logging.Component(logger, "storage")

	switch cfg.Backend {
	case config.BackendMemory:
		engine := storage.NewStorageEngine(
			storage.WithDataDir(cfg.DataDir),
			storage.WithSnapshotFile(cfg.SnapshotFile),
			storage.WithBackgroundSave(cfg.BackgroundSave),
			storage.WithLogger(storeLogger),
		)
		if err := engine.LoadFromFile(cfg.SnapshotFile); err != nil {
			return nil, fmt.Errorf("failed to load snapshot %s: %w", cfg.SnapshotFile, err)
		}
		if cfg.BackgroundSave > 0 {
			storeLogger.Info().Dur("interval", cfg.BackgroundSave).Msg("Background save enabled")
		} else {
			storeLogger.Warn().Msg("Background save disabled - data only saved on graceful shutdown")
		}
		engine.StartBackgroundWorkers()
		return engine, nil

	case config.BackendPebble:
		return pebblestore.Open(filepath.Join(cfg.DataDir, PebbleDirName), pebblestore.WithLogger(storeLogger))

	case config.BackendPostgres:
		return pgstore.Open(ctx, cfg.PostgresURL, pgstore.WithLogger(storeLogger))

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewServer opens the configured store and assembles a server around it
func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	return New(cfg, store, logger), nil
}

// New assembles a server around an already opened store. The server owns the
// store from here on and closes it in Shutdown.
func New(cfg *config.Config, store domain.Store, logger zerolog.Logger) *Server {
	executor := batch.NewExecutor(store, batch.NewMutator(store), logging.Component(logger, "executor"))
	dispatcher := batch.NewDispatcher(executor, store, logging.Component(logger, "dispatcher"))
	submitter := batch.NewSubmitter(store, dispatcher, logging.Component(logger, "submitter"))
	handler := api.NewHandler(submitter, store, cfg.Collections.Protected, logging.Component(logger, "api"))

	s := &Server{
		cfg:        cfg,
		router:     mux.NewRouter(),
		store:      store,
		dispatcher: dispatcher,
		logger:     logging.Component(logger, "server"),
	}

	handler.RegisterRoutes(s.router)

	// Use the logging middleware for all routes
	s.router.Use(s.requestLoggerMiddleware)

	// Customize NotFoundHandler to log 404s
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Warn().Str("method", r.Method).Str("path", r.URL.Path).Msg("No route found")
		api.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})

	return s
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLoggerMiddleware logs the method, URL path, status and duration for each request.
func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Router exposes the internal mux.Router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Store exposes the backing store
func (s *Server) Store() domain.Store {
	return s.store
}

// Dispatcher exposes the job dispatcher
func (s *Server) Dispatcher() *batch.Dispatcher {
	return s.dispatcher
}

// Resume re-dispatches jobs left PENDING or IN_PROGRESS by a previous run
func (s *Server) Resume(ctx context.Context) (int, error) {
	n, err := s.dispatcher.Resume(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resume jobs: %w", err)
	}
	return n, nil
}

// ListenAndServe serves HTTP on the configured port until Shutdown
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.router,
	}

	s.logger.Info().Str("addr", s.cfg.Addr()).Msg("Starting go-batch server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, stops executors at their next chunk
// boundary and closes the store. Interrupted jobs keep their status and
// are resumed on the next start.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if err := s.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	} else {
		s.logger.Info().Str("backend", s.cfg.Storage.Backend).Msg("Store closed")
	}

	return errors.Join(errs...)
}
