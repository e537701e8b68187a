package stubscan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sizeview/sizeview/internal/mutation"
	"github.com/sizeview/sizeview/internal/protocol"
	"github.com/sizeview/sizeview/internal/session"
	"github.com/sizeview/sizeview/internal/testutil"
	"github.com/sizeview/sizeview/internal/websocket"
)

// startServer runs a stub server over an httptest listener and returns its
// websocket endpoint.
func startServer(t *testing.T, tree *Tree, opts Options) string {
	t.Helper()

	srv, err := New(tree, opts, testutil.NewTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func dial(t *testing.T, endpoint string) (*websocket.Client, <-chan websocket.Delivery) {
	t.Helper()

	client := websocket.NewClient(websocket.Options{Endpoint: endpoint, DialTimeout: 2 * time.Second}, testutil.NewTestLogger(t))
	deliveries := client.Subscribe()
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(client.Close)
	return client, deliveries
}

// nextEvent skips status deliveries and returns the next decoded event.
func nextEvent(t *testing.T, deliveries <-chan websocket.Delivery) protocol.Event {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case d, ok := <-deliveries:
			require.True(t, ok, "stream closed")
			require.NoError(t, d.Err)
			if d.Event != nil {
				return d.Event
			}
		case <-timeout:
			t.Fatal("no event")
			return nil
		}
	}
}

func TestServer_ChangeDirectoryEchoesToken(t *testing.T) {
	endpoint := startServer(t, newTestTree(t, true), Options{})
	client, deliveries := dial(t, endpoint)

	require.NoError(t, client.Send(protocol.ChangeDirectory{Path: protocol.Path{"docs"}, RequestID: 42}))

	ev := nextEvent(t, deliveries)
	dc, ok := ev.(protocol.DirectoryChange)
	require.True(t, ok)
	assert.Equal(t, uint64(42), dc.RequestID)
	assert.Equal(t, protocol.Path{"docs"}, dc.CurrentDirectory.Path)
	assert.Len(t, dc.Entries, 2)
	assert.Equal(t, uint64(1000), dc.AvailableSpace)
}

func TestServer_DeleteSequence(t *testing.T) {
	endpoint := startServer(t, newTestTree(t, true), Options{})
	client, deliveries := dial(t, endpoint)

	require.NoError(t, client.Send(protocol.ChangeDirectory{Path: protocol.Root(), RequestID: 1}))
	nextEvent(t, deliveries)

	require.NoError(t, client.Send(protocol.Delete{Path: protocol.Path{"movie.mkv"}}))
	assert.Equal(t, protocol.Deleting{Path: protocol.Path{"movie.mkv"}, Status: protocol.DeletingFinished}, nextEvent(t, deliveries))

	refresh, ok := nextEvent(t, deliveries).(protocol.DirectoryChange)
	require.True(t, ok)
	assert.Zero(t, refresh.RequestID)
	assert.Len(t, refresh.Entries, 2)

	require.NoError(t, client.Send(protocol.Delete{Path: protocol.Path{"system"}}))
	failed, ok := nextEvent(t, deliveries).(protocol.DeleteFailed)
	require.True(t, ok)
	assert.Equal(t, ErrLocked.Error(), failed.Reason)
}

func TestServer_SlowDeleteReportsProgress(t *testing.T) {
	endpoint := startServer(t, newTestTree(t, true), Options{DeleteDelay: slowDeleteThreshold})
	client, deliveries := dial(t, endpoint)

	require.NoError(t, client.Send(protocol.ChangeDirectory{Path: protocol.Root(), RequestID: 1}))
	nextEvent(t, deliveries)

	require.NoError(t, client.Send(protocol.Delete{Path: protocol.Path{"movie.mkv"}}))
	assert.Equal(t, protocol.Deleting{Path: protocol.Path{"movie.mkv"}, Status: protocol.DeletingInProgress}, nextEvent(t, deliveries))
	assert.Equal(t, protocol.Deleting{Path: protocol.Path{"movie.mkv"}, Status: protocol.DeletingFinished}, nextEvent(t, deliveries))
}

func TestServer_StreamsScanProgress(t *testing.T) {
	endpoint := startServer(t, newTestTree(t, false), Options{ScanInterval: 10 * time.Millisecond})
	client, deliveries := dial(t, endpoint)

	require.NoError(t, client.Send(protocol.ChangeDirectory{Path: protocol.Root(), RequestID: 1}))
	listing, ok := nextEvent(t, deliveries).(protocol.DirectoryChange)
	require.True(t, ok)

	// the scan may already be over by the time the listing is taken
	finishedRoot := listing.CurrentDirectory.ScanState == protocol.ScanFinished
	for !finishedRoot {
		su, ok := nextEvent(t, deliveries).(protocol.SizeUpdate)
		require.True(t, ok)
		finishedRoot = su.Entry.Path.IsRoot() && su.Entry.ScanState == protocol.ScanFinished
		if finishedRoot {
			assert.Equal(t, uint64(550), su.Entry.Size)
		}
	}
}

func TestServer_Health(t *testing.T) {
	srv, err := New(newTestTree(t, false), Options{ScanInterval: time.Hour}, testutil.NopLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(4), body["pendingScans"])
	require.Len(t, body["tasks"], 1)
	assert.Equal(t, "scan", body["tasks"].([]any)[0].(map[string]any)["id"])
}

// recorder keeps the latest frame for assertions from the test goroutine.
type recorder struct {
	mu      sync.Mutex
	frame   session.Frame
	notices []mutation.Notice
}

func (r *recorder) Render(f session.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frame = f
	r.notices = append(r.notices, f.Notices...)
}

func (r *recorder) snapshot() (session.Frame, []mutation.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame, append([]mutation.Notice(nil), r.notices...)
}

func TestSessionAgainstStub(t *testing.T) {
	endpoint := startServer(t, newTestTree(t, false), Options{ScanInterval: 5 * time.Millisecond})

	client := websocket.NewClient(websocket.Options{Endpoint: endpoint, DialTimeout: 2 * time.Second}, testutil.NewTestLogger(t))
	r := &recorder{}
	s := session.New(client, r, session.Options{PageSize: 10, SweepInterval: 10 * time.Millisecond}, testutil.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	// root listing arrives and the scan finishes in the background
	require.Eventually(t, func() bool {
		f, _ := r.snapshot()
		return f.Loaded && f.Directory.ScanState == protocol.ScanFinished && f.TotalSize == 550
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Open("docs"))
	require.Eventually(t, func() bool {
		f, _ := r.snapshot()
		return f.Directory.Path.Equal(protocol.Path{"docs"}) && !f.Navigating
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.RequestDelete("a.txt"))
	require.NoError(t, s.Confirm(protocol.Path{"docs", "a.txt"}))
	require.Eventually(t, func() bool {
		f, _ := r.snapshot()
		return f.Count == 1 && len(f.Pending) == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, notices := r.snapshot()
	require.NotEmpty(t, notices)
	assert.Equal(t, mutation.NoticeDeleted, notices[len(notices)-1].Kind)

	require.NoError(t, s.Up())
	require.Eventually(t, func() bool {
		f, _ := r.snapshot()
		return f.Directory.Path.IsRoot() && f.TotalSize == 450
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}
