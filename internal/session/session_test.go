package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sizeview/sizeview/internal/mutation"
	"github.com/sizeview/sizeview/internal/protocol"
	"github.com/sizeview/sizeview/internal/testutil"
	"github.com/sizeview/sizeview/internal/websocket"
)

// fakeTransport opens immediately and lets the test push deliveries.
type fakeTransport struct {
	deliveries chan websocket.Delivery
	sent       chan protocol.Control
	failDial   error

	mu       sync.Mutex
	closed   bool
	sendErrs map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		deliveries: make(chan websocket.Delivery, 64),
		sent:       make(chan protocol.Control, 64),
	}
}

func (f *fakeTransport) Subscribe() <-chan websocket.Delivery { return f.deliveries }

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.deliveries <- websocket.Delivery{Status: &websocket.Status{State: websocket.StateConnecting}}
	if f.failDial != nil {
		f.finish(websocket.Status{State: websocket.StateError, Err: f.failDial})
		return f.failDial
	}
	f.deliveries <- websocket.Delivery{Status: &websocket.Status{State: websocket.StateOpen}}
	return nil
}

func (f *fakeTransport) Send(msg protocol.Control) error {
	f.mu.Lock()
	err := f.sendErrs[msg.Type()]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- msg
	return nil
}

// failSends makes Send return err for messages of type msgType. A nil err
// lets them through again.
func (f *fakeTransport) failSends(msgType string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErrs == nil {
		f.sendErrs = make(map[string]error)
	}
	f.sendErrs[msgType] = err
}

func (f *fakeTransport) Close() {
	f.finish(websocket.Status{State: websocket.StateClosed, Err: websocket.ErrChannelClosed})
}

func (f *fakeTransport) push(ev protocol.Event) {
	f.deliveries <- websocket.Delivery{Event: ev}
}

func (f *fakeTransport) finish(st websocket.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.deliveries <- websocket.Delivery{Status: &st}
	close(f.deliveries)
}

func (f *fakeTransport) next(t *testing.T) protocol.Control {
	t.Helper()
	select {
	case msg := <-f.sent:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was sent")
		return nil
	}
}

// frames records every rendered frame.
type frames struct {
	mu  sync.Mutex
	all []Frame
}

func (r *frames) Render(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, f)
}

func (r *frames) last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return Frame{}
	}
	return r.all[len(r.all)-1]
}

func (r *frames) notices() []mutation.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mutation.Notice
	for _, f := range r.all {
		out = append(out, f.Notices...)
	}
	return out
}

type harness struct {
	session   *Session
	transport *fakeTransport
	frames    *frames
	clock     *clockwork.FakeClock
	cancel    context.CancelFunc
	result    chan error
}

// viewport reports one line per row in a fixed-height area.
type viewport struct {
	*frames
	height int
}

func (v *viewport) Viewport() (int, int) {
	return len(v.last().Rows), v.height
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()
	return startRendering(t, opts, nil)
}

// startRendering runs a session whose renderer is wrap(frames), or the
// frames recorder itself when wrap is nil.
func startRendering(t *testing.T, opts Options, wrap func(*frames) Renderer) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		frames:    &frames{},
		clock:     clockwork.NewFakeClock(),
		result:    make(chan error, 1),
	}
	opts.Clock = h.clock
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 10 * time.Millisecond
	}
	var r Renderer = h.frames
	if wrap != nil {
		r = wrap(h.frames)
	}
	h.session = New(h.transport, r, opts, testutil.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- h.session.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.session.done:
	case <-time.After(5 * time.Second):
	}
}

// settle waits for the loop to process everything pushed so far. Once the
// delivery buffer is empty the loop can only pick up the no-op intent after
// it has finished with the last delivery.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.transport.deliveries) == 0
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, h.session.Scroll(1, 0))
}

// open completes the initial root navigation with listing.
func (h *harness) open(t *testing.T, entries ...protocol.Entry) {
	t.Helper()
	msg := h.transport.next(t)
	cd, ok := msg.(protocol.ChangeDirectory)
	require.True(t, ok, "expected changeDirectory, got %T", msg)
	require.True(t, cd.Path.IsRoot())

	listing := testutil.Listing(protocol.Root(), entries...)
	listing.RequestID = cd.RequestID
	h.transport.push(listing)
	h.settle(t)
}

func TestSession_InitialLoad(t *testing.T) {
	h := start(t, Options{})
	h.open(t,
		protocol.NewDirectory(protocol.Path{"a"}, 300, protocol.ScanFinished),
		protocol.NewFile(protocol.Path{"b"}, 100),
	)

	f := h.frames.last()
	assert.Equal(t, websocket.StateOpen, f.Status.State)
	assert.True(t, f.Loaded)
	assert.False(t, f.Navigating)
	assert.Equal(t, 2, f.Count)
	assert.Equal(t, uint64(400), f.TotalSize)
	assert.Equal(t, uint64(1<<30), f.AvailableSpace)
	require.Len(t, f.Rows, 2)
	assert.Equal(t, "a", f.Rows[0].Name())
}

func TestSession_StaleNavigationIsDiscarded(t *testing.T) {
	h := start(t, Options{})
	h.open(t, protocol.NewDirectory(protocol.Path{"a"}, 1, protocol.ScanFinished),
		protocol.NewDirectory(protocol.Path{"b"}, 1, protocol.ScanFinished))

	require.NoError(t, h.session.Open("a"))
	first := h.transport.next(t).(protocol.ChangeDirectory)
	require.NoError(t, h.session.Open("b"))
	second := h.transport.next(t).(protocol.ChangeDirectory)
	assert.Greater(t, second.RequestID, first.RequestID)

	// the reply for b arrives first, then the late reply for a
	b := testutil.Listing(protocol.Path{"b"})
	b.RequestID = second.RequestID
	a := testutil.Listing(protocol.Path{"a"})
	a.RequestID = first.RequestID
	h.transport.push(b)
	h.transport.push(a)
	h.settle(t)

	f := h.frames.last()
	assert.Equal(t, protocol.Path{"b"}, f.Directory.Path)
	assert.False(t, f.Navigating)
}

func TestSession_WindowResetsOnNavigation(t *testing.T) {
	h := start(t, Options{PageSize: 2})

	var entries []protocol.Entry
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		entries = append(entries, protocol.NewDirectory(protocol.Path{name}, 1, protocol.ScanFinished))
	}
	h.open(t, entries...)
	assert.Len(t, h.frames.last().Rows, 2)

	require.NoError(t, h.session.More())
	assert.Len(t, h.frames.last().Rows, 4)

	// growth only when the user can see the end of the rendered rows
	require.NoError(t, h.session.Scroll(10, 5))
	assert.Len(t, h.frames.last().Rows, 4)
	require.NoError(t, h.session.Scroll(5, 10))
	assert.Len(t, h.frames.last().Rows, 5)
	assert.False(t, h.frames.last().HasMore())

	// size updates do not touch the window
	h.transport.push(protocol.SizeUpdate{Entry: protocol.NewDirectory(protocol.Path{"e"}, 99, protocol.ScanUpdating)})
	h.settle(t)
	assert.Len(t, h.frames.last().Rows, 5)

	require.NoError(t, h.session.Open("a"))
	cd := h.transport.next(t).(protocol.ChangeDirectory)
	reply := testutil.Listing(protocol.Path{"a"},
		protocol.NewFile(protocol.Path{"a", "1"}, 1),
		protocol.NewFile(protocol.Path{"a", "2"}, 1),
		protocol.NewFile(protocol.Path{"a", "3"}, 1),
	)
	reply.RequestID = cd.RequestID
	h.transport.push(reply)
	h.settle(t)

	f := h.frames.last()
	assert.Len(t, f.Rows, 2)
	assert.True(t, f.HasMore())
}

func TestSession_DeleteLifecycle(t *testing.T) {
	h := start(t, Options{})
	h.open(t, protocol.NewFile(protocol.Path{"big.iso"}, 4096))

	require.NoError(t, h.session.RequestDelete("big.iso"))
	confirming := h.frames.last().Confirming()
	require.Len(t, confirming, 1)
	assert.Equal(t, protocol.Path{"big.iso"}, confirming[0].Path)

	require.NoError(t, h.session.Confirm(protocol.Path{"big.iso"}))
	assert.Equal(t, protocol.Delete{Path: protocol.Path{"big.iso"}}, h.transport.next(t))

	h.transport.push(protocol.Deleting{Path: protocol.Path{"big.iso"}, Status: protocol.DeletingFinished})
	// the server follows up with an untagged refresh of the directory
	h.transport.push(testutil.Listing(protocol.Root()))
	h.settle(t)

	f := h.frames.last()
	assert.Empty(t, f.Pending)
	assert.Equal(t, 0, f.Count)

	notices := h.frames.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, mutation.NoticeDeleted, notices[0].Kind)
}

func TestSession_DeleteTimeout(t *testing.T) {
	h := start(t, Options{MutationTimeout: time.Minute})
	h.open(t, protocol.NewFile(protocol.Path{"x"}, 1))

	require.NoError(t, h.session.RequestDelete("x"))
	require.NoError(t, h.session.Confirm(protocol.Path{"x"}))
	h.transport.next(t)

	h.clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool {
		for _, n := range h.frames.notices() {
			if n.Kind == mutation.NoticeTimeout {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSession_IntentErrors(t *testing.T) {
	h := start(t, Options{})
	h.open(t, protocol.NewFile(protocol.Path{"f"}, 1))

	assert.ErrorIs(t, h.session.Open("missing"), ErrNoEntry)
	assert.ErrorIs(t, h.session.Open("f"), ErrNotDirectory)
	assert.ErrorIs(t, h.session.Confirm(protocol.Path{"f"}), mutation.ErrNotConfirming)
	assert.ErrorIs(t, h.session.Cancel(protocol.Path{"f"}), mutation.ErrNotConfirming)
	require.NoError(t, h.session.Up())

	require.NoError(t, h.session.Reveal("f"))
	assert.Equal(t, protocol.Reveal{Path: protocol.Path{"f"}}, h.transport.next(t))
}

func TestSession_MalformedMessagesAreSkipped(t *testing.T) {
	h := start(t, Options{})
	h.open(t, protocol.NewDirectory(protocol.Path{"a"}, 1, protocol.ScanUpdating))

	_, err := protocol.DecodeEvent([]byte(`{"type":"sizeUpdate"}`))
	require.Error(t, err)
	h.transport.deliveries <- websocket.Delivery{Err: err}
	h.transport.push(protocol.SizeUpdate{Entry: protocol.NewDirectory(protocol.Path{"a"}, 7, protocol.ScanFinished)})
	h.settle(t)

	f := h.frames.last()
	require.Len(t, f.Rows, 1)
	assert.Equal(t, uint64(7), f.Rows[0].Size)
}

func TestSession_ConnectionLossResolvesDeletes(t *testing.T) {
	h := start(t, Options{})
	h.open(t, protocol.NewFile(protocol.Path{"x"}, 1))

	require.NoError(t, h.session.RequestDelete("x"))
	require.NoError(t, h.session.Confirm(protocol.Path{"x"}))
	h.transport.next(t)

	h.transport.Close()
	select {
	case err := <-h.result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}

	f := h.frames.last()
	assert.Equal(t, websocket.StateClosed, f.Status.State)
	assert.True(t, f.Loaded)
	assert.Empty(t, f.Pending)

	notices := h.frames.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, mutation.NoticeConnectionLost, notices[0].Kind)

	assert.ErrorIs(t, h.session.Navigate(protocol.Root()), ErrStopped)
}

func TestSession_DialFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.failDial = errors.New("connection refused")
	r := &frames{}
	s := New(transport, r, Options{}, testutil.NewTestLogger(t))

	err := s.Run(context.Background())
	assert.EqualError(t, err, "connection refused")

	f := r.last()
	assert.Equal(t, websocket.StateError, f.Status.State)
	assert.False(t, f.Loaded)
}

func TestSession_WindowFillsViewportAfterRender(t *testing.T) {
	h := startRendering(t, Options{PageSize: 2}, func(f *frames) Renderer {
		return &viewport{frames: f, height: 5}
	})

	var entries []protocol.Entry
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		entries = append(entries, protocol.NewFile(protocol.Path{name}, 1))
	}
	h.open(t, entries...)

	// 2 rows fit, 4 rows fit, 6 rows overflow the 5-line area
	f := h.frames.last()
	assert.Len(t, f.Rows, 6)
	assert.True(t, f.HasMore())
}

func TestSession_FailedSendsRollBack(t *testing.T) {
	h := start(t, Options{MutationTimeout: time.Minute})
	h.open(t,
		protocol.NewDirectory(protocol.Path{"d"}, 10, protocol.ScanFinished),
		protocol.NewFile(protocol.Path{"a.txt"}, 1),
	)

	h.transport.failSends(protocol.TypeDelete, websocket.ErrSendBufferFull)
	require.NoError(t, h.session.RequestDelete("a.txt"))
	assert.ErrorIs(t, h.session.Confirm(protocol.Path{"a.txt"}), websocket.ErrSendBufferFull)

	confirming := h.frames.last().Confirming()
	require.Len(t, confirming, 1)
	assert.Equal(t, protocol.Path{"a.txt"}, confirming[0].Path)

	// an unsent delete never times out
	h.clock.Advance(2 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	h.settle(t)
	assert.Empty(t, h.frames.notices())

	h.transport.failSends(protocol.TypeDelete, nil)
	require.NoError(t, h.session.Confirm(protocol.Path{"a.txt"}))
	assert.Equal(t, protocol.Delete{Path: protocol.Path{"a.txt"}}, h.transport.next(t))

	// a navigation that never left does not block server refreshes
	h.transport.failSends(protocol.TypeChangeDirectory, websocket.ErrSendBufferFull)
	assert.ErrorIs(t, h.session.Open("d"), websocket.ErrSendBufferFull)
	assert.False(t, h.frames.last().Navigating)

	h.transport.push(testutil.Listing(protocol.Root(), protocol.NewDirectory(protocol.Path{"d"}, 10, protocol.ScanFinished)))
	h.settle(t)
	f := h.frames.last()
	assert.Equal(t, 1, f.Count)
	assert.True(t, f.Directory.Path.IsRoot())
}
