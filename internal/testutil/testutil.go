// Package testutil provides shared helpers for package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sizeview/sizeview/internal/protocol"
)

// NewTestLogger creates a test logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// Listing builds a well-formed directoryChange for dir. Every breadcrumb is
// a finished directory whose size is the sum of entries.
func Listing(dir protocol.Path, entries ...protocol.Entry) protocol.DirectoryChange {
	var total uint64
	for _, e := range entries {
		total += e.Size
	}

	crumbs := make([]protocol.Entry, 0, len(dir)+1)
	for _, p := range dir.Prefixes() {
		crumbs = append(crumbs, protocol.NewDirectory(p, total, protocol.ScanFinished))
	}

	if entries == nil {
		entries = []protocol.Entry{}
	}
	return protocol.DirectoryChange{
		CurrentDirectory:  crumbs[len(crumbs)-1],
		Entries:           entries,
		BreadcrumbEntries: crumbs,
		AvailableSpace:    1 << 30,
	}
}

// WriteFile writes content to name inside a fresh temp directory and
// returns the full path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}
