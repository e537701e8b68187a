package session

import (
	"fmt"

	"github.com/sizeview/sizeview/internal/mutation"
	"github.com/sizeview/sizeview/internal/protocol"
	"github.com/sizeview/sizeview/internal/websocket"
)

// Intents block until the loop has handled them. They must not be called
// from a Renderer, which runs on the loop goroutine.

// Navigate requests path as the new current directory.
func (s *Session) Navigate(path protocol.Path) error {
	return s.do(func() error {
		return s.navigate(path)
	})
}

// Open navigates into the child directory called name.
func (s *Session) Open(name string) error {
	return s.do(func() error {
		entry, err := s.lookup(name)
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDirectory, name)
		}
		return s.navigate(entry.Path)
	})
}

// Up navigates to the parent of the current directory. It is a no-op at the root.
func (s *Session) Up() error {
	return s.do(func() error {
		state := s.store.Snapshot()
		if state == nil {
			return ErrNoDirectory
		}
		if state.CurrentDirectory.Path.IsRoot() {
			return nil
		}
		return s.navigate(state.CurrentDirectory.Path.Parent())
	})
}

// RequestDelete asks for confirmation to delete the entry called name.
func (s *Session) RequestDelete(name string) error {
	return s.do(func() error {
		entry, err := s.lookup(name)
		if err != nil {
			return err
		}
		return s.mutations.RequestDelete(entry)
	})
}

// Confirm sends the delete awaiting confirmation for path.
func (s *Session) Confirm(path protocol.Path) error {
	return s.do(func() error {
		if err := s.requireOpen("delete"); err != nil {
			return err
		}
		msg, err := s.mutations.Confirm(path)
		if err != nil {
			return err
		}
		if err := s.transport.Send(msg); err != nil {
			s.mutations.Revert(path)
			return err
		}
		return nil
	})
}

// Cancel drops the delete awaiting confirmation for path.
func (s *Session) Cancel(path protocol.Path) error {
	return s.do(func() error {
		if !s.mutations.Cancel(path) {
			return fmt.Errorf("%w: %s", mutation.ErrNotConfirming, path.Key())
		}
		return nil
	})
}

// Reveal asks the server to show the entry called name in the host file manager.
func (s *Session) Reveal(name string) error {
	return s.do(func() error {
		entry, err := s.lookup(name)
		if err != nil {
			return err
		}
		if err := s.requireOpen("reveal"); err != nil {
			return err
		}
		return s.transport.Send(s.mutations.Reveal(entry.Path))
	})
}

// Scroll reports the rendered and visible bottom edges after a render or a
// scroll event. The window grows by a page when the user can see its end.
func (s *Session) Scroll(renderedBottom, viewportBottom int) error {
	return s.do(func() error {
		s.window.Check(s.entryCount(), renderedBottom, viewportBottom)
		return nil
	})
}

// More grows the window by one page.
func (s *Session) More() error {
	return s.do(func() error {
		s.window.More(s.entryCount())
		return nil
	})
}

func (s *Session) navigate(path protocol.Path) error {
	if err := s.requireOpen("navigate"); err != nil {
		return err
	}
	msg := s.store.BeginNavigation(path)
	s.logger.Debug().
		Str("path", path.String()).
		Uint64("requestId", msg.RequestID).
		Msg("Changing directory")
	if err := s.transport.Send(msg); err != nil {
		s.store.AbandonNavigation(msg)
		return err
	}
	return nil
}

func (s *Session) requireOpen(op string) error {
	if s.status.State != websocket.StateOpen {
		return fmt.Errorf("%s: %w (state %s)", op, websocket.ErrNotOpen, s.status.State)
	}
	return nil
}

func (s *Session) lookup(name string) (protocol.Entry, error) {
	state := s.store.Snapshot()
	if state == nil {
		return protocol.Entry{}, ErrNoDirectory
	}
	entry, ok := state.LookupName(name)
	if !ok {
		return protocol.Entry{}, fmt.Errorf("%w: %s", ErrNoEntry, name)
	}
	return entry, nil
}

func (s *Session) entryCount() int {
	if state := s.store.Snapshot(); state != nil {
		return len(state.Entries)
	}
	return 0
}
