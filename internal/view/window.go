package view

import (
	"github.com/sizeview/sizeview/internal/protocol"
)

// DefaultPageSize is the number of rows rendered for a freshly opened directory.
const DefaultPageSize = 100

// Window caps the number of rendered rows and grows page by page as the
// user scrolls. Incoming size updates never change it; only Reset does.
type Window struct {
	pageSize int
	shown    int
	sort     SortOptions
}

// NewWindow creates a window showing one page.
func NewWindow(pageSize int, sort SortOptions) *Window {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Window{pageSize: pageSize, shown: pageSize, sort: sort}
}

// Shown returns the current row cap.
func (w *Window) Shown() int {
	return w.shown
}

// PageSize returns the growth step.
func (w *Window) PageSize() int {
	return w.pageSize
}

// Project returns the first min(shown, len(entries)) rows in display order.
// The underlying entries are not modified.
func (w *Window) Project(entries []protocol.Entry) []protocol.Entry {
	sorted := Sort(entries, w.sort)
	if len(sorted) > w.shown {
		sorted = sorted[:w.shown]
	}
	return sorted
}

// Check grows the window by one page when the bottom edge of the rendered
// rows is at or above the bottom edge of the viewport, meaning the user can
// see the end of what has been rendered. It reports whether the window grew.
// Run it after every render and every scroll event.
func (w *Window) Check(total, renderedBottom, viewportBottom int) bool {
	if renderedBottom > viewportBottom {
		return false
	}
	return w.More(total)
}

// More grows the window by one page, clamped to total.
func (w *Window) More(total int) bool {
	if w.shown >= total {
		return false
	}
	w.shown = min(w.shown+w.pageSize, total)
	return true
}

// Reset returns the window to a single page. Call it on navigation.
func (w *Window) Reset() {
	w.shown = w.pageSize
}
