package protocol

// EntryKind discriminates the two entry variants.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// ScanState describes how far the remote scanner has aggregated a directory.
// It is informational only; sizes may still change after finished.
type ScanState string

const (
	ScanIdle     ScanState = "idle"
	ScanUpdating ScanState = "updating"
	ScanFinished ScanState = "finished"
)

// Valid reports whether s is one of the known scan states.
func (s ScanState) Valid() bool {
	switch s {
	case ScanIdle, ScanUpdating, ScanFinished:
		return true
	}
	return false
}

// Entry is a file or directory identified by its path.
// ScanState is only meaningful for directories.
type Entry struct {
	Kind      EntryKind `json:"type"`
	Path      Path      `json:"path"`
	Size      uint64    `json:"size"`
	ScanState ScanState `json:"scanState,omitempty"`
}

// NewFile returns a file entry.
func NewFile(path Path, size uint64) Entry {
	return Entry{Kind: KindFile, Path: path, Size: size}
}

// NewDirectory returns a directory entry.
func NewDirectory(path Path, size uint64, state ScanState) Entry {
	return Entry{Kind: KindDirectory, Path: path, Size: size, ScanState: state}
}

// IsDir reports whether e is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// Name returns the last path segment.
func (e Entry) Name() string {
	return e.Path.Name()
}

// DirectoryState is the local view of one directory: the directory itself,
// its direct children and the live entries of every ancestor.
type DirectoryState struct {
	CurrentDirectory  Entry   `json:"currentDirectory"`
	Entries           []Entry `json:"entries"`
	BreadcrumbEntries []Entry `json:"breadcrumbEntries"`
	AvailableSpace    uint64  `json:"availableSpace"`
}

// TotalSize sums the sizes of the direct children.
func (s *DirectoryState) TotalSize() uint64 {
	var total uint64
	for _, e := range s.Entries {
		total += e.Size
	}
	return total
}

// Lookup finds a direct child by path.
func (s *DirectoryState) Lookup(path Path) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Path.Equal(path) {
			return e, true
		}
	}
	return Entry{}, false
}

// LookupName finds a direct child by its last segment.
func (s *DirectoryState) LookupName(name string) (Entry, bool) {
	return s.Lookup(s.CurrentDirectory.Path.Child(name))
}
