// Package session runs the client event loop. It is the single place where
// connection deliveries, user intents and timer ticks are dispatched, so the
// store, the view window and the mutation coordinator are only ever touched
// from one goroutine.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sizeview/sizeview/internal/mutation"
	"github.com/sizeview/sizeview/internal/protocol"
	"github.com/sizeview/sizeview/internal/scheduler"
	"github.com/sizeview/sizeview/internal/store"
	"github.com/sizeview/sizeview/internal/view"
	"github.com/sizeview/sizeview/internal/websocket"
)

const (
	defaultSweepInterval = time.Second
	sweepTaskID          = "mutation-sweep"
)

var (
	ErrStopped      = errors.New("session is not running")
	ErrNoDirectory  = errors.New("no directory loaded")
	ErrNoEntry      = errors.New("no such entry")
	ErrNotDirectory = errors.New("not a directory")
)

// Transport is the connection the session drives. *websocket.Client implements it.
type Transport interface {
	Subscribe() <-chan websocket.Delivery
	Connect(ctx context.Context) error
	Send(msg protocol.Control) error
	Close()
}

// Options configures a Session.
type Options struct {
	PageSize        int
	Sort            view.SortOptions
	MutationTimeout time.Duration
	SweepInterval   time.Duration
	// Clock drives mutation timeouts. Defaults to the real clock.
	Clock clockwork.Clock
}

type intent struct {
	fn     func() error
	result chan error
}

// Session owns the client-side state for one connection.
type Session struct {
	transport Transport
	renderer  Renderer
	store     *store.Store
	window    *view.Window
	mutations *mutation.Coordinator
	sweep     time.Duration
	logger    zerolog.Logger

	status  websocket.Status
	intents chan intent
	ticks   chan struct{}
	done    chan struct{}
}

// New creates a session. Nothing happens until Run.
func New(transport Transport, renderer Renderer, opts Options, logger zerolog.Logger) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}

	return &Session{
		transport: transport,
		renderer:  renderer,
		store:     store.New(logger),
		window:    view.NewWindow(opts.PageSize, opts.Sort),
		mutations: mutation.NewCoordinator(clock, opts.MutationTimeout, logger),
		sweep:     sweep,
		logger:    logger.With().Str("component", "session").Logger(),
		status:    websocket.Status{State: websocket.StateConnecting},
		intents:   make(chan intent),
		ticks:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Run connects and processes deliveries and intents until the connection
// reaches a terminal state. Cancelling ctx closes the connection; Run still
// drains the remaining deliveries before returning. The returned error is
// the connection failure, or nil after a graceful close.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	deliveries := s.transport.Subscribe()

	sched, err := scheduler.New(nil, s.logger)
	if err != nil {
		return err
	}
	err = sched.RegisterTask(scheduler.TaskConfig{
		ID:       sweepTaskID,
		Name:     "Mutation timeout sweep",
		Interval: s.sweep,
		Quiet:    true,
		Func: func(context.Context) error {
			select {
			case s.ticks <- struct{}{}:
			default:
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}()

	// A failed handshake is reported through the delivery stream as well.
	if err := s.transport.Connect(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Connect returned an error")
	}

	stop := ctx.Done()
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return s.result()
			}
			s.dispatch(d)
			s.render()

		case in := <-s.intents:
			err := in.fn()
			s.render()
			in.result <- err

		case <-s.ticks:
			if s.mutations.Sweep() > 0 {
				s.render()
			}

		case <-stop:
			stop = nil
			s.transport.Close()
		}
	}
}

func (s *Session) result() error {
	if s.status.State == websocket.StateError {
		return s.status.Err
	}
	return nil
}

// dispatch is the exhaustive switch over everything the connection yields.
func (s *Session) dispatch(d websocket.Delivery) {
	switch {
	case d.Status != nil:
		s.transition(*d.Status)
	case d.Err != nil:
		s.logger.Warn().Err(d.Err).Msg("Skipping malformed message")
	case d.Event != nil:
		s.apply(d.Event)
	}
}

func (s *Session) transition(st websocket.Status) {
	s.status = st

	switch st.State {
	case websocket.StateOpen:
		if err := s.navigate(protocol.Root()); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to request the scan root")
		}
	case websocket.StateClosed, websocket.StateError:
		s.mutations.ConnectionLost()
		if st.State == websocket.StateError {
			s.logger.Error().Err(st.Err).Msg("Connection failed")
		} else {
			s.logger.Info().Msg("Connection closed")
		}
	}
}

func (s *Session) apply(ev protocol.Event) {
	s.mutations.Observe(ev)

	before := s.store.Snapshot()
	if s.store.Apply(ev) != store.Replaced {
		return
	}
	after := s.store.Snapshot()
	if before == nil || !before.CurrentDirectory.Path.Equal(after.CurrentDirectory.Path) {
		s.window.Reset()
	}
}

func (s *Session) render() {
	if s.renderer == nil {
		return
	}
	for {
		s.renderer.Render(s.frame())
		vp, ok := s.renderer.(Viewport)
		if !ok {
			return
		}
		rendered, visible := vp.Viewport()
		if !s.window.Check(s.entryCount(), rendered, visible) {
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Session) do(fn func() error) error {
	in := intent{fn: fn, result: make(chan error, 1)}

	select {
	case s.intents <- in:
	case <-s.done:
		return ErrStopped
	}

	select {
	case err := <-in.result:
		return err
	case <-s.done:
		select {
		case err := <-in.result:
			return err
		default:
			return ErrStopped
		}
	}
}
