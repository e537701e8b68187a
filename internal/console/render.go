// Package console is a line-oriented front end for a session: it prints
// frames as text and turns typed commands into session intents.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/sizeview/sizeview/internal/mutation"
	"github.com/sizeview/sizeview/internal/protocol"
	"github.com/sizeview/sizeview/internal/session"
	"github.com/sizeview/sizeview/internal/websocket"
)

// Console renders frames to out. The listing is only reprinted when the
// directory or the window changes, or when asked with Print; live size
// updates are folded in silently.
type Console struct {
	out io.Writer

	mu       sync.Mutex
	last     session.Frame
	printed  string
	prompted string
	state    websocket.State
	seen     bool
}

// New creates a console writing to out.
func New(out io.Writer) *Console {
	return &Console{out: out}
}

// Render implements session.Renderer.
func (c *Console) Render(f session.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = f

	if !c.seen || f.Status.State != c.state {
		c.seen = true
		c.state = f.Status.State
		fmt.Fprintf(c.out, "[%s]\n", f.Status)
	}

	for _, n := range f.Notices {
		fmt.Fprintf(c.out, "%s %s\n", noticeMark(n.Kind), n.Message)
	}

	if f.Loaded {
		if key := listingKey(f); key != c.printed {
			c.printed = key
			c.print(f)
		}
	}

	confirming := f.Confirming()
	keys := make([]string, 0, len(confirming))
	for _, m := range confirming {
		keys = append(keys, m.Key())
	}
	key := strings.Join(keys, "\x00")
	if key == c.prompted {
		return
	}
	c.prompted = key
	for _, m := range confirming {
		fmt.Fprintf(c.out, "? delete %s (%s)? type: yes %s | no %s\n",
			m.Path, humanize.IBytes(m.Entry.Size), m.Entry.Name(), m.Entry.Name())
	}
}

// Frame returns the most recently rendered frame.
func (c *Console) Frame() session.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Print writes the current listing regardless of what changed.
func (c *Console) Print() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.last.Loaded {
		fmt.Fprintln(c.out, "no directory loaded")
		return
	}
	c.print(c.last)
}

func (c *Console) print(f session.Frame) {
	fmt.Fprintln(c.out, breadcrumbs(f.Breadcrumbs))

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, e := range f.Rows {
		fmt.Fprintf(tw, "%s\t %s\t%s\t\n", humanize.IBytes(e.Size), kind(e), rowName(e))
	}
	tw.Flush()

	if f.HasMore() {
		fmt.Fprintf(c.out, "... showing %s of %s, type \"more\"\n",
			humanize.Comma(int64(len(f.Rows))), humanize.Comma(int64(f.Count)))
	}
	fmt.Fprintf(c.out, "%s items, %s total, %s available\n",
		humanize.Comma(int64(f.Count)), humanize.IBytes(f.TotalSize), humanize.IBytes(f.AvailableSpace))
}

// listingKey changes when the directory or the number of rows does.
func listingKey(f session.Frame) string {
	return fmt.Sprintf("%s#%d#%d", f.Directory.Path.Key(), len(f.Rows), f.Count)
}

func breadcrumbs(crumbs []protocol.Entry) string {
	parts := make([]string, 0, len(crumbs))
	for _, e := range crumbs {
		name := e.Name()
		if e.Path.IsRoot() {
			name = "/"
		}
		parts = append(parts, fmt.Sprintf("%s %s%s", name, humanize.IBytes(e.Size), scanMark(e.ScanState)))
	}
	return strings.Join(parts, " > ")
}

func kind(e protocol.Entry) string {
	if e.IsDir() {
		return "dir"
	}
	return "file"
}

func rowName(e protocol.Entry) string {
	if e.IsDir() {
		return e.Name() + "/" + scanMark(e.ScanState)
	}
	return e.Name()
}

func scanMark(s protocol.ScanState) string {
	switch s {
	case protocol.ScanUpdating:
		return " (scanning)"
	case protocol.ScanIdle:
		return " (queued)"
	default:
		return ""
	}
}

func noticeMark(k mutation.NoticeKind) string {
	switch k {
	case mutation.NoticeDeleted:
		return "+"
	case mutation.NoticeDeleting:
		return "~"
	default:
		return "!"
	}
}
