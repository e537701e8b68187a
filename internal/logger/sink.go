package logger

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const defaultBufferSize = 1000

// Listener is notified of every entry the sink keeps.
type Listener interface {
	OnLogEntry(entry LogEntry)
}

// LogEntry represents a parsed log entry.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Sink is the observability sink for recovered errors: it keeps the most
// recent warn-or-worse entries written through zerolog.
type Sink struct {
	mu       sync.Mutex
	kept     *history
	minLevel zerolog.Level
	listener Listener
}

// NewSink creates a sink keeping up to bufferSize entries.
func NewSink(bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Sink{
		kept:     newHistory(bufferSize),
		minLevel: zerolog.WarnLevel,
	}
}

// SetListener registers a listener for newly kept entries. Nil removes it.
func (s *Sink) SetListener(listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// Write implements io.Writer for callers that bypass level routing.
func (s *Sink) Write(p []byte) (n int, err error) {
	return s.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (s *Sink) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	n = len(p)
	if level != zerolog.NoLevel && level < s.minLevel {
		return n, nil
	}

	entry, parseErr := parseLogEntry(p)
	if parseErr != nil {
		return n, nil //nolint:nilerr // Silently ignore malformed log entries
	}
	if level == zerolog.NoLevel {
		if parsed, err := zerolog.ParseLevel(entry.Level); err != nil || parsed < s.minLevel {
			return n, nil
		}
	}

	s.mu.Lock()
	s.kept.add(entry)
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.OnLogEntry(entry)
	}

	return n, nil
}

// Recent returns all buffered entries, oldest first.
func (s *Sink) Recent() []LogEntry {
	return s.Last(0)
}

// Last returns up to n most recent entries, oldest first. n <= 0 means all.
func (s *Sink) Last(n int) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kept.tail(n)
}

// parseLogEntry parses a zerolog JSON entry into a LogEntry.
func parseLogEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{
		Fields: make(map[string]any),
	}

	if ts, ok := raw[zerolog.TimestampFieldName].(string); ok {
		entry.Timestamp = ts
		delete(raw, zerolog.TimestampFieldName)
	}

	if level, ok := raw[zerolog.LevelFieldName].(string); ok {
		entry.Level = level
		delete(raw, zerolog.LevelFieldName)
	}

	if component, ok := raw["component"].(string); ok {
		entry.Component = component
		delete(raw, "component")
	}

	if msg, ok := raw[zerolog.MessageFieldName].(string); ok {
		entry.Message = msg
		delete(raw, zerolog.MessageFieldName)
	}

	if errMsg, ok := raw[zerolog.ErrorFieldName].(string); ok {
		entry.Error = errMsg
		delete(raw, zerolog.ErrorFieldName)
	}

	for k, v := range raw {
		entry.Fields[k] = v
	}

	return entry, nil
}
