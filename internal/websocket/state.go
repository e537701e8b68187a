package websocket

import (
	"errors"
	"fmt"

	"github.com/sizeview/sizeview/internal/protocol"
)

// State is the lifecycle position of a client connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Status is a state plus the error that caused a terminal transition.
type Status struct {
	State State
	Err   error
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %v", s.State, s.Err)
	}
	return s.State.String()
}

var (
	// ErrNotOpen is returned by Send when the channel is not open.
	ErrNotOpen = errors.New("connection is not open")
	// ErrAlreadyStarted is returned by a second Connect.
	ErrAlreadyStarted = errors.New("connection already started")
	// ErrChannelClosed is the cause carried by the closed state.
	ErrChannelClosed = errors.New("channel closed")
	// ErrSendBufferFull is returned when outgoing messages are not draining.
	ErrSendBufferFull = errors.New("send buffer full")
)

// ConnectionError is a transport failure. It is terminal; the client never reconnects.
type ConnectionError struct {
	Endpoint string
	Phase    string // "handshake" or "transport"
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("websocket %s failed for %s: %v", e.Phase, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Delivery is one item of the ordered receive stream. Exactly one field is set.
type Delivery struct {
	// Event is a decoded inbound message.
	Event protocol.Event
	// Err is a *protocol.ProtocolError for a payload that failed to decode.
	Err error
	// Status is a lifecycle transition.
	Status *Status
}
