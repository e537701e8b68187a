// Package view derives the bounded, sorted row list rendered for a directory.
package view

import (
	"slices"
	"strings"

	"github.com/sizeview/sizeview/internal/protocol"
)

// SortOptions controls display ordering.
type SortOptions struct {
	// UpdatingFirst lifts directories still being scanned above everything else.
	UpdatingFirst bool
}

// Sort returns a sorted copy of entries: size descending, then directories
// before files, then last segment ascending.
func Sort(entries []protocol.Entry, opts SortOptions) []protocol.Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b protocol.Entry) int {
		return compare(a, b, opts)
	})
	return out
}

func compare(a, b protocol.Entry, opts SortOptions) int {
	if opts.UpdatingFirst {
		au, bu := updating(a), updating(b)
		if au != bu {
			if au {
				return -1
			}
			return 1
		}
	}

	if a.Size != b.Size {
		if a.Size > b.Size {
			return -1
		}
		return 1
	}

	if a.IsDir() != b.IsDir() {
		if a.IsDir() {
			return -1
		}
		return 1
	}

	return strings.Compare(a.Name(), b.Name())
}

func updating(e protocol.Entry) bool {
	return e.IsDir() && e.ScanState == protocol.ScanUpdating
}
