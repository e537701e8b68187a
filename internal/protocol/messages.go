// Package protocol defines the wire model exchanged with the remote scanner
// and the codec that maps it to and from UTF-8 JSON text frames.
package protocol

// Control message discriminants (client -> server).
const (
	TypeChangeDirectory = "changeDirectory"
	TypeDelete          = "delete"
	TypeReveal          = "reveal"
)

// Event message discriminants (server -> client).
const (
	TypeDirectoryChange = "directoryChange"
	TypeSizeUpdate      = "sizeUpdate"
	TypeDeleting        = "deleting"
	TypeDeleteFailed    = "deleteFailed"
)

// Control is a message sent by the client. The set of implementations is closed.
type Control interface {
	Type() string
	isControl()
}

// Event is a message pushed by the server. The set of implementations is closed.
type Event interface {
	Type() string
	isEvent()
}

// ChangeDirectory requests the entries and metadata of the directory at Path.
// RequestID pairs the request with its DirectoryChange response; zero means untagged.
type ChangeDirectory struct {
	Path      Path   `json:"path"`
	RequestID uint64 `json:"requestId,omitempty"`
}

// Delete requests deletion of the file or directory at Path.
type Delete struct {
	Path Path `json:"path"`
}

// Reveal asks the host to show Path in its native file browser.
type Reveal struct {
	Path Path `json:"path"`
}

func (ChangeDirectory) Type() string { return TypeChangeDirectory }
func (Delete) Type() string          { return TypeDelete }
func (Reveal) Type() string          { return TypeReveal }

func (ChangeDirectory) isControl() {}
func (Delete) isControl()          {}
func (Reveal) isControl()          {}

// DirectoryChange replaces the active view wholesale.
type DirectoryChange struct {
	RequestID         uint64  `json:"requestId,omitempty"`
	CurrentDirectory  Entry   `json:"currentDirectory"`
	Entries           []Entry `json:"entries"`
	BreadcrumbEntries []Entry `json:"breadcrumbEntries"`
	AvailableSpace    uint64  `json:"availableSpace"`
}

// State returns the directory state carried by the message.
func (m DirectoryChange) State() *DirectoryState {
	entries := m.Entries
	if entries == nil {
		entries = []Entry{}
	}
	return &DirectoryState{
		CurrentDirectory:  m.CurrentDirectory,
		Entries:           entries,
		BreadcrumbEntries: m.BreadcrumbEntries,
		AvailableSpace:    m.AvailableSpace,
	}
}

// SizeUpdate is a point update of one directory's aggregate size and scan state.
type SizeUpdate struct {
	Entry Entry `json:"entry"`
}

// DeletingStatus is the lifecycle marker carried by Deleting.
type DeletingStatus string

const (
	DeletingInProgress DeletingStatus = "deleting"
	DeletingFinished   DeletingStatus = "finished"
)

// Deleting reports progress or completion of a delete request.
type Deleting struct {
	Path   Path           `json:"path"`
	Status DeletingStatus `json:"status"`
}

// DeleteFailed is the negative acknowledgment of a delete request.
type DeleteFailed struct {
	Path   Path   `json:"path"`
	Reason string `json:"reason"`
}

func (DirectoryChange) Type() string { return TypeDirectoryChange }
func (SizeUpdate) Type() string      { return TypeSizeUpdate }
func (Deleting) Type() string        { return TypeDeleting }
func (DeleteFailed) Type() string    { return TypeDeleteFailed }

func (DirectoryChange) isEvent() {}
func (SizeUpdate) isEvent()      {}
func (Deleting) isEvent()        {}
func (DeleteFailed) isEvent()    {}
