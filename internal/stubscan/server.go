package stubscan

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/sizeview/sizeview/internal/protocol"
	"github.com/sizeview/sizeview/internal/scheduler"
	"github.com/sizeview/sizeview/internal/websocket"
)

// Deletes that take at least this long are announced with a deleting
// progress event before the finished one.
const slowDeleteThreshold = time.Second

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// DeleteDelay is how long each delete takes.
	DeleteDelay time.Duration
	// ScanInterval is the time between two finished directories. Zero
	// disables the simulated scan.
	ScanInterval time.Duration
	Clock        clockwork.Clock
}

// Server serves a Tree to websocket clients.
type Server struct {
	tree   *Tree
	peers  map[*websocket.Peer]protocol.Path
	mu     sync.Mutex
	hub    *websocket.Hub
	echo   *echo.Echo
	sched  *scheduler.Scheduler
	opts   Options
	logger zerolog.Logger
}

// New creates a stub server for tree.
func New(tree *Tree, opts Options, logger zerolog.Logger) (*Server, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	sched, err := scheduler.New(opts.Clock, logger)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		tree:   tree,
		peers:  make(map[*websocket.Peer]protocol.Path),
		hub:    websocket.NewHub(logger),
		echo:   e,
		sched:  sched,
		opts:   opts,
		logger: logger.With().Str("component", "stubscan").Logger(),
	}
	s.hub.SetControlHandler(s.handleControl)
	s.hub.SetLeaveHandler(s.handleLeave)

	if opts.ScanInterval > 0 {
		err := sched.RegisterTask(scheduler.TaskConfig{
			ID:       "scan",
			Name:     "Simulated scan",
			Interval: opts.ScanInterval,
			Quiet:    true,
			Func:     s.scanStep,
		})
		if err != nil {
			return nil, err
		}
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Err(v.Error).
				Msg("request")
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ws", s.hub.HandleWebSocket)
}

// Handler returns the HTTP handler serving /ws and /health.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run drives the hub and the simulated scan until ctx is cancelled. Use it
// with Handler when the caller owns the listener.
func (s *Server) Run(ctx context.Context) error {
	stop := make(chan struct{})
	go s.hub.Run(stop)
	s.sched.Start()

	<-ctx.Done()

	err := s.sched.Stop()
	close(stop)
	return err
}

// ListenAndServe serves on address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", address).Msg("Starting stub scan server")
		serveErr <- s.echo.Start(address)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	return <-runDone
}

func (s *Server) healthCheck(c echo.Context) error {
	s.mu.Lock()
	pending := s.tree.Pending()
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"peers":        s.hub.PeerCount(),
		"pendingScans": pending,
		"tasks":        s.sched.ListTasks(),
	})
}

// handleControl runs on the hub goroutine.
func (s *Server) handleControl(peer *websocket.Peer, msg protocol.Control) {
	switch m := msg.(type) {
	case protocol.ChangeDirectory:
		s.mu.Lock()
		listing := s.tree.Listing(m.Path)
		s.peers[peer] = listing.CurrentDirectory.Path
		s.mu.Unlock()

		listing.RequestID = m.RequestID
		peer.Send(listing)

	case protocol.Delete:
		go s.delete(peer, m.Path)

	case protocol.Reveal:
		s.logger.Info().Str("path", m.Path.String()).Msg("Reveal requested")
	}
}

func (s *Server) handleLeave(peer *websocket.Peer) {
	s.mu.Lock()
	delete(s.peers, peer)
	s.mu.Unlock()
}

// delete mirrors a real scanner: progress for slow deletes, then finished,
// then an untagged refresh of every peer's current directory.
func (s *Server) delete(peer *websocket.Peer, path protocol.Path) {
	if s.opts.DeleteDelay >= slowDeleteThreshold {
		peer.Send(protocol.Deleting{Path: path, Status: protocol.DeletingInProgress})
	}
	if s.opts.DeleteDelay > 0 {
		s.opts.Clock.Sleep(s.opts.DeleteDelay)
	}

	s.mu.Lock()
	err := s.tree.Remove(path)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("path", path.String()).Msg("Delete failed")
		peer.Send(protocol.DeleteFailed{Path: path, Reason: err.Error()})
		return
	}

	s.logger.Info().Str("path", path.String()).Msg("Deleted")
	peer.Send(protocol.Deleting{Path: path, Status: protocol.DeletingFinished})
	s.refresh()
}

func (s *Server) refresh() {
	s.mu.Lock()
	listings := make(map[*websocket.Peer]protocol.DirectoryChange, len(s.peers))
	for p, dir := range s.peers {
		listing := s.tree.Listing(dir)
		s.peers[p] = listing.CurrentDirectory.Path
		listings[p] = listing
	}
	s.mu.Unlock()

	for p, listing := range listings {
		p.Send(listing)
	}
}

func (s *Server) scanStep(context.Context) error {
	s.mu.Lock()
	changed := s.tree.ScanStep()
	peers := make([]*websocket.Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		for _, e := range changed {
			p.Send(protocol.SizeUpdate{Entry: e})
		}
	}
	return nil
}
