package session

import (
	"github.com/sizeview/sizeview/internal/mutation"
	"github.com/sizeview/sizeview/internal/protocol"
	"github.com/sizeview/sizeview/internal/websocket"
)

// Renderer paints frames. Render is called on the session goroutine after
// every transition and must not call back into the session.
type Renderer interface {
	Render(frame Frame)
}

// Viewport is implemented by renderers that know their geometry. After each
// render the session reads the bottom edge of the rendered rows and of the
// visible area, and grows the window while the end of the rows is visible.
type Viewport interface {
	Viewport() (renderedBottom, viewportBottom int)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(frame Frame)

func (f RendererFunc) Render(frame Frame) { f(frame) }

// Frame is everything the presentation layer needs for one paint. The
// slices are owned by the frame.
type Frame struct {
	Status websocket.Status
	// Loaded is false until the first directory arrives. After a
	// connection failure the last directory stays loaded.
	Loaded bool
	// Navigating is true while a changeDirectory awaits its response.
	Navigating bool

	Directory      protocol.Entry
	Breadcrumbs    []protocol.Entry
	Rows           []protocol.Entry
	Count          int
	TotalSize      uint64
	AvailableSpace uint64

	Pending []mutation.Mutation
	Notices []mutation.Notice
}

// HasMore reports whether rows are hidden below the window.
func (f Frame) HasMore() bool {
	return len(f.Rows) < f.Count
}

// Confirming returns the deletes awaiting a yes or no from the user.
func (f Frame) Confirming() []mutation.Mutation {
	var out []mutation.Mutation
	for _, m := range f.Pending {
		if m.Status == mutation.StatusConfirming {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) frame() Frame {
	f := Frame{
		Status:     s.status,
		Navigating: s.store.Pending(),
		Pending:    s.mutations.Pending(),
		Notices:    s.mutations.Drain(),
	}

	state := s.store.Snapshot()
	if state == nil {
		return f
	}

	f.Loaded = true
	f.Directory = state.CurrentDirectory
	f.Breadcrumbs = append([]protocol.Entry(nil), state.BreadcrumbEntries...)
	f.Rows = s.window.Project(state.Entries)
	f.Count = len(state.Entries)
	f.TotalSize = state.TotalSize()
	f.AvailableSpace = state.AvailableSpace
	return f
}
