package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol matches every *ProtocolError via errors.Is.
var ErrProtocol = errors.New("protocol error")

// ProtocolError describes a payload that could not be decoded into a known
// message. Type is the offending discriminant, empty when none could be read.
type ProtocolError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: undecodable payload: %s", e.Reason)
	}
	return fmt.Sprintf("protocol: %q message: %s", e.Type, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func invalid(msgType, format string, args ...any) *ProtocolError {
	return &ProtocolError{Type: msgType, Reason: fmt.Sprintf(format, args...)}
}

func malformed(msgType string, err error) *ProtocolError {
	return &ProtocolError{Type: msgType, Reason: err.Error(), Err: err}
}
