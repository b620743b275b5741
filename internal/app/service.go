// Package service wires the realtime hub, its transports and the optional
// archive pipeline into one runnable unit.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/perception/internal/adapters/archive"
	"github.com/okian/perception/internal/adapters/http/api"
	"github.com/okian/perception/internal/adapters/http/swagger"
	"github.com/okian/perception/internal/adapters/http/ws"
	eventqueue "github.com/okian/perception/internal/adapters/mq/queue"
	workerpool "github.com/okian/perception/internal/adapters/mq/worker"
	"github.com/okian/perception/internal/adapters/realtime"
	"github.com/okian/perception/internal/adapters/repository"
	"github.com/okian/perception/internal/config"
	"github.com/okian/perception/internal/domain/model"
	"github.com/okian/perception/pkg/logger"
	"github.com/okian/perception/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Service owns one hub instance and everything attached to it.
type Service struct {
	mu sync.RWMutex

	cfg    *config.Config
	logger logger.Logger

	// Core components
	registry *repository.Registry
	hub      *realtime.Hub
	wsServer *ws.Server
	apiSrv   *api.Server

	// Archive pipeline; nil when archive.dsn is empty
	queue *eventqueue.InMemoryQueue
	pool  *workerpool.Pool
	store *archive.SQLiteStore

	// State
	started   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc // hub
	poolStop  context.CancelFunc // archive workers, cancelled after the drain
}

// New constructs a Service from configuration. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg == nil {
		s.cfg = config.New()
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.registry == nil {
		s.registry = repository.NewRegistry(
			repository.WithHistoryLimits(s.cfg.HistoryCap, s.cfg.HistoryRetain),
		)
	}

	hubOpts := []realtime.Option{
		realtime.WithRegistry(s.registry),
		realtime.WithBounds(s.cfg.RatingMin, s.cfg.RatingMax),
		realtime.WithInboxSize(s.cfg.InboxSize),
		realtime.WithLogger(s.logger.Named("hub")),
	}
	if s.archiveEnabled() {
		s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.cfg.Archive.QueueSize))
		hubOpts = append(hubOpts, realtime.WithArchive(s.queue))
	}
	s.hub = realtime.NewHub(hubOpts...)

	s.wsServer = ws.NewServer(s.hub,
		ws.WithOrigins(s.cfg.Origins()...),
		ws.WithSendBuffer(s.cfg.SendBuffer),
		ws.WithMaxMessageBytes(s.cfg.MaxMessageBytes),
		ws.WithPingInterval(s.cfg.PingInterval()),
		ws.WithIdleTimeout(s.cfg.IdleTimeout()),
		ws.WithWriteTimeout(s.cfg.WriteTimeout()),
		ws.WithLogger(s.logger.Named("ws")),
	)

	var reader api.ArchiveReader
	if s.archiveEnabled() {
		reader = s
	}
	s.apiSrv = api.NewServer(s.hub, s, reader)

	return s
}

func (s *Service) archiveEnabled() bool {
	return s.cfg.Archive.DSN != ""
}

// Hub exposes the realtime hub, for callers that drive it directly.
func (s *Service) Hub() *realtime.Hub { return s.hub }

// Start opens the archive, if configured, and launches the hub loop and the
// archive workers. Their lifetime ends with Stop, not with ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting perception service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if s.archiveEnabled() {
		store, err := archive.NewSQLiteStore(s.cfg.Archive.DSN)
		if err != nil {
			cancel()
			return fmt.Errorf("%w: %w", ErrStart, err)
		}
		s.store = store
		s.pool = workerpool.NewPool(s.cfg.Archive.Workers, s.queue, store)
		poolCtx, poolStop := context.WithCancel(context.WithoutCancel(ctx))
		s.pool.Start(poolCtx)
		s.poolStop = poolStop
	}

	go func() {
		if err := s.hub.Run(runCtx); err != nil {
			s.logger.Error(runCtx, "hub stopped", logger.Error(err))
		}
	}()

	s.cancel = cancel
	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "perception service started",
		logger.Int("history_cap", s.cfg.HistoryCap),
		logger.Int("history_retain", s.cfg.HistoryRetain),
		logger.Bool("archive", s.archiveEnabled()),
	)

	return nil
}

// Stop shuts the hub down, drains the archive queue and closes the store.
// It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		s.stopped = true
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping perception service...")

	// The hub goes first so nothing is enqueued behind the drain.
	s.cancel()
	<-s.hub.Done()

	if s.pool != nil {
		drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := s.pool.Shutdown(drainCtx); err != nil {
			s.logger.Warn(ctx, "archive drain incomplete", logger.Error(err))
		}
		cancel()
		s.poolStop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "closing archive", logger.Error(err))
		}
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "perception service stopped")
}

// Register attaches /ws, the API routes and the API docs to an existing mux.
func (s *Service) Register(mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.Handle("GET /ws", s.wsServer)
	s.apiSrv.Register(mux)
	swagger.Register(mux)
}

// Handler returns a standalone handler with every route and CORS applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return api.CORS(s.cfg.Origins(), mux)
}

// ListenAndServe starts the service, listens on addr and serves until ctx is
// cancelled, then shuts the server and the service down.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe over an existing listener. It takes ownership of ln.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info(ctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%w: %w", ErrServe, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info(ctx, "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown; stopping
		// the hub closes them.
		err := srv.Shutdown(shutdownCtx)
		s.Stop()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrServe, err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info(ctx, "server stopped")
	return err
}

// List reads the archive of one session.
func (s *Service) List(ctx context.Context, sessionID string, limit int) (*model.ArchiveExport, error) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	if store == nil {
		return nil, ErrNotStarted
	}
	export, err := store.List(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	return export, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	started := s.started
	startedAt := s.startedAt
	pool := s.pool
	s.mu.RUnlock()

	stats := map[string]any{
		"started": started,
		"archive": s.archiveEnabled(),
	}
	if !started {
		return stats
	}

	stats["uptimeSeconds"] = int64(time.Since(startedAt).Seconds())

	if hs, err := s.hub.Stats(ctx); err == nil {
		stats["sessions"] = hs.Sessions
		stats["connections"] = hs.Connections
		stats["inboxSize"] = hs.InboxSize
		stats["inboxCapacity"] = hs.InboxCapacity
		metrics.UpdateHubInboxSize(hs.InboxSize)
	}

	if pool != nil {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["workerCount"] = pool.Size()
		stats["archived"] = pool.Processed()
		stats["archiveFailures"] = pool.Failed()
		metrics.UpdateQueueSize(queueLen)
	}

	return stats
}
