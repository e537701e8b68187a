package store

import (
	"github.com/rs/zerolog"

	"github.com/sizeview/sizeview/internal/protocol"
)

// Store owns the current DirectoryState and the navigation token sequence.
// It is not safe for concurrent use; the session loop is its only caller.
type Store struct {
	state       *protocol.DirectoryState
	lastSent    uint64
	lastApplied uint64
	lastPath    protocol.Path
	prevPath    protocol.Path
	logger      zerolog.Logger
}

// New creates an empty store. Snapshot returns nil until the first directoryChange.
func New(logger zerolog.Logger) *Store {
	return &Store{
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// BeginNavigation allocates the next request token and returns the message
// to send. Only the response carrying this token will be accepted.
func (s *Store) BeginNavigation(path protocol.Path) protocol.ChangeDirectory {
	s.lastSent++
	s.prevPath = s.lastPath
	s.lastPath = path.Clone()
	return protocol.ChangeDirectory{Path: s.lastPath, RequestID: s.lastSent}
}

// AbandonNavigation withdraws msg when it could not be sent, restoring the
// token and path that were current before it. It only undoes the most recent
// BeginNavigation.
func (s *Store) AbandonNavigation(msg protocol.ChangeDirectory) bool {
	if msg.RequestID == 0 || msg.RequestID != s.lastSent {
		return false
	}
	s.lastSent--
	s.lastPath = s.prevPath
	s.prevPath = nil
	return true
}

// Pending reports whether a navigation is waiting for its response.
func (s *Store) Pending() bool {
	return s.lastApplied != s.lastSent
}

// Snapshot returns the current state. Callers must treat it as read-only;
// Apply never mutates a state once published.
func (s *Store) Snapshot() *protocol.DirectoryState {
	return s.state
}

// Apply folds one event into the store.
//
// A directoryChange tagged with a token other than the last one sent is
// stale. An untagged directoryChange is either a server-initiated refresh,
// accepted while no navigation is outstanding, or the reply of a server that
// does not echo tokens, accepted when it is for the last requested path.
func (s *Store) Apply(ev protocol.Event) Outcome {
	if dc, ok := ev.(protocol.DirectoryChange); ok {
		if !s.accepts(dc) {
			s.logger.Debug().
				Uint64("requestId", dc.RequestID).
				Uint64("lastSent", s.lastSent).
				Str("path", dc.CurrentDirectory.Path.String()).
				Msg("discarding stale directory change")
			return Stale
		}
		s.lastApplied = s.lastSent
	}

	next, outcome := Reduce(s.state, ev)
	s.state = next

	if outcome == Dangling {
		if su, ok := ev.(protocol.SizeUpdate); ok {
			s.logger.Trace().Str("path", su.Entry.Path.String()).Msg("Dropping size update for absent path")
		}
	}
	return outcome
}

func (s *Store) accepts(dc protocol.DirectoryChange) bool {
	if dc.RequestID == 0 {
		return !s.Pending() || dc.CurrentDirectory.Path.Equal(s.lastPath)
	}
	return dc.RequestID == s.lastSent
}
