// Package store folds the inbound event stream into the current directory state.
package store

import (
	"github.com/sizeview/sizeview/internal/protocol"
)

// Outcome tells the caller what an event did to the state.
type Outcome int

const (
	// Replaced means a directoryChange installed a new state.
	Replaced Outcome = iota
	// Patched means a sizeUpdate overwrote at least one entry.
	Patched
	// Dangling means a sizeUpdate matched nothing and was dropped.
	Dangling
	// Routed means the event does not touch directory state (mutation lifecycle).
	Routed
	// Stale means a directoryChange answered a superseded navigation and was dropped.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Replaced:
		return "replaced"
	case Patched:
		return "patched"
	case Dangling:
		return "dangling"
	case Routed:
		return "routed"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Reduce applies ev to state and returns the resulting state. The input is
// never modified; unchanged collections are shared with the result.
// state may be nil before the first directoryChange.
func Reduce(state *protocol.DirectoryState, ev protocol.Event) (*protocol.DirectoryState, Outcome) {
	switch m := ev.(type) {
	case protocol.DirectoryChange:
		return m.State(), Replaced

	case protocol.SizeUpdate:
		if state == nil {
			return state, Dangling
		}
		entries, hitEntries := patch(state.Entries, m.Entry)
		crumbs, hitCrumbs := state.BreadcrumbEntries, false
		if state.CurrentDirectory.Path.HasPrefix(m.Entry.Path) {
			crumbs, hitCrumbs = patch(state.BreadcrumbEntries, m.Entry)
		}
		if !hitEntries && !hitCrumbs {
			return state, Dangling
		}

		next := *state
		next.Entries = entries
		next.BreadcrumbEntries = crumbs
		if hitCrumbs && next.CurrentDirectory.Path.Equal(m.Entry.Path) {
			next.CurrentDirectory = m.Entry
		}
		return &next, Patched

	case protocol.Deleting, protocol.DeleteFailed:
		return state, Routed

	default:
		return state, Routed
	}
}

// patch returns a copy of entries with the element at update.Path replaced,
// or the original slice when no element matches.
func patch(entries []protocol.Entry, update protocol.Entry) ([]protocol.Entry, bool) {
	for i := range entries {
		if !entries[i].Path.Equal(update.Path) {
			continue
		}
		out := make([]protocol.Entry, len(entries))
		copy(out, entries)
		updated := update
		updated.Path = entries[i].Path
		out[i] = updated
		return out, true
	}
	return entries, false
}
