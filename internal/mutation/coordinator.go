// Package mutation tracks delete and reveal intents from confirmation
// through the asynchronous completion reported by the server.
package mutation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sizeview/sizeview/internal/protocol"
)

// DefaultTimeout bounds how long a confirmed delete may go without completing
// before it is reported.
const DefaultTimeout = 30 * time.Second

var (
	ErrNotConfirming = errors.New("no delete awaiting confirmation for path")
	ErrInFlight      = errors.New("delete already in flight for path")
)

// Status is the lifecycle position of a tracked delete.
type Status string

const (
	StatusConfirming Status = "confirming"
	StatusRequested  Status = "requested"
	StatusDeleting   Status = "deleting"
)

// Mutation is one tracked delete, keyed by its joined path.
type Mutation struct {
	Path        protocol.Path
	Entry       protocol.Entry
	Status      Status
	RequestedAt time.Time
	TimedOut    bool
}

// Key returns the "/"-joined path that identifies the mutation.
func (m Mutation) Key() string {
	return m.Path.Key()
}

// NoticeKind classifies a user-facing lifecycle notice.
type NoticeKind string

const (
	NoticeDeleting       NoticeKind = "deleting"
	NoticeDeleted        NoticeKind = "deleted"
	NoticeFailed         NoticeKind = "failed"
	NoticeTimeout        NoticeKind = "timeout"
	NoticeConnectionLost NoticeKind = "connectionLost"
)

// Notice is emitted once per lifecycle transition for the presentation layer.
type Notice struct {
	Key     string
	Kind    NoticeKind
	Message string
	At      time.Time
}

// Coordinator tracks pending deletes. It is driven from the session loop
// and is not safe for concurrent use.
type Coordinator struct {
	clock     clockwork.Clock
	timeout   time.Duration
	mutations map[string]*Mutation
	notices   []Notice
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator. A zero timeout uses DefaultTimeout.
func NewCoordinator(clock clockwork.Clock, timeout time.Duration, logger zerolog.Logger) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		clock:     clock,
		timeout:   timeout,
		mutations: make(map[string]*Mutation),
		logger:    logger.With().Str("component", "mutation").Logger(),
	}
}

// RequestDelete starts the confirmation step for entry. Nothing is sent yet.
func (c *Coordinator) RequestDelete(entry protocol.Entry) error {
	key := entry.Path.Key()
	if m, exists := c.mutations[key]; exists && m.Status != StatusConfirming {
		return fmt.Errorf("%w: %s", ErrInFlight, key)
	}

	c.mutations[key] = &Mutation{
		Path:   entry.Path.Clone(),
		Entry:  entry,
		Status: StatusConfirming,
	}
	c.logger.Debug().Str("path", key).Msg("Delete awaiting confirmation")
	return nil
}

// Cancel drops a delete that is still awaiting confirmation.
func (c *Coordinator) Cancel(path protocol.Path) bool {
	key := path.Key()
	m, exists := c.mutations[key]
	if !exists || m.Status != StatusConfirming {
		return false
	}
	delete(c.mutations, key)
	c.logger.Debug().Str("path", key).Msg("Delete cancelled")
	return true
}

// Confirm moves a delete to requested and returns the message to send.
func (c *Coordinator) Confirm(path protocol.Path) (protocol.Delete, error) {
	key := path.Key()
	m, exists := c.mutations[key]
	if !exists || m.Status != StatusConfirming {
		return protocol.Delete{}, fmt.Errorf("%w: %s", ErrNotConfirming, key)
	}

	m.Status = StatusRequested
	m.RequestedAt = c.clock.Now()

	c.logger.Info().Str("path", key).Msg("Delete requested")
	return protocol.Delete{Path: m.Path.Clone()}, nil
}

// Revert puts a delete whose message could not be sent back to awaiting
// confirmation, so it can be confirmed again or cancelled.
func (c *Coordinator) Revert(path protocol.Path) bool {
	key := path.Key()
	m, exists := c.mutations[key]
	if !exists || m.Status != StatusRequested {
		return false
	}
	m.Status = StatusConfirming
	m.RequestedAt = time.Time{}
	m.TimedOut = false
	c.logger.Debug().Str("path", key).Msg("Delete returned to confirmation")
	return true
}

// Reveal returns the fire-and-forget reveal message for path.
func (c *Coordinator) Reveal(path protocol.Path) protocol.Reveal {
	c.logger.Debug().Str("path", path.Key()).Msg("Reveal requested")
	return protocol.Reveal{Path: path.Clone()}
}

// Observe folds a mutation lifecycle event into the coordinator. Events for
// untracked paths are discarded; it reports whether the event was used.
func (c *Coordinator) Observe(ev protocol.Event) bool {
	switch m := ev.(type) {
	case protocol.Deleting:
		return c.observeDeleting(m)
	case protocol.DeleteFailed:
		return c.observeFailed(m)
	default:
		return false
	}
}

func (c *Coordinator) observeDeleting(ev protocol.Deleting) bool {
	key := ev.Path.Key()
	m, exists := c.mutations[key]
	if !exists || m.Status == StatusConfirming {
		return false
	}

	switch ev.Status {
	case protocol.DeletingInProgress:
		if m.Status == StatusDeleting {
			return true
		}
		m.Status = StatusDeleting
		c.notify(key, NoticeDeleting, "Deleting "+key)

	case protocol.DeletingFinished:
		delete(c.mutations, key)
		c.notify(key, NoticeDeleted, "Deleted "+key)
		c.logger.Info().
			Str("path", key).
			Dur("duration", c.clock.Since(m.RequestedAt)).
			Msg("Delete finished")
	}
	return true
}

func (c *Coordinator) observeFailed(ev protocol.DeleteFailed) bool {
	key := ev.Path.Key()
	m, exists := c.mutations[key]
	if !exists || m.Status == StatusConfirming {
		return false
	}

	delete(c.mutations, key)
	c.notify(key, NoticeFailed, fmt.Sprintf("Could not delete %s: %s", key, ev.Reason))
	c.logger.Warn().Str("path", key).Str("reason", ev.Reason).Msg("Delete failed")
	return true
}

// Sweep reports deletes that have gone longer than the timeout without
// completing. Each is reported once and stays tracked.
func (c *Coordinator) Sweep() int {
	now := c.clock.Now()
	reported := 0
	for _, key := range c.keys() {
		m := c.mutations[key]
		if m.Status == StatusConfirming || m.TimedOut {
			continue
		}
		if now.Sub(m.RequestedAt) < c.timeout {
			continue
		}
		m.TimedOut = true
		reported++
		c.notify(key, NoticeTimeout, fmt.Sprintf("Delete of %s has not finished after %s", key, c.timeout))
		c.logger.Warn().Str("path", key).Dur("timeout", c.timeout).Msg("Delete timed out")
	}
	return reported
}

// ConnectionLost resolves every sent delete as unknown-outcome and drops
// everything tracked.
func (c *Coordinator) ConnectionLost() {
	for _, key := range c.keys() {
		m := c.mutations[key]
		if m.Status != StatusConfirming {
			c.notify(key, NoticeConnectionLost, fmt.Sprintf("Connection lost while deleting %s", key))
		}
	}
	clear(c.mutations)
}

// Get returns the mutation tracked under key.
func (c *Coordinator) Get(key string) (Mutation, bool) {
	m, exists := c.mutations[key]
	if !exists {
		return Mutation{}, false
	}
	return *m, true
}

// Pending returns every tracked mutation ordered by key.
func (c *Coordinator) Pending() []Mutation {
	out := make([]Mutation, 0, len(c.mutations))
	for _, key := range c.keys() {
		out = append(out, *c.mutations[key])
	}
	return out
}

// Drain returns and clears the queued notices.
func (c *Coordinator) Drain() []Notice {
	out := c.notices
	c.notices = nil
	return out
}

func (c *Coordinator) notify(key string, kind NoticeKind, msg string) {
	c.notices = append(c.notices, Notice{Key: key, Kind: kind, Message: msg, At: c.clock.Now()})
}

func (c *Coordinator) keys() []string {
	keys := make([]string, 0, len(c.mutations))
	for key := range c.mutations {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, strings.Compare)
	return keys
}
