package logger

// history keeps the last cap(entries) log entries. It is not safe for
// concurrent use; Sink serializes access.
type history struct {
	entries []LogEntry
	next    int
	full    bool
}

func newHistory(size int) *history {
	return &history{entries: make([]LogEntry, size)}
}

func (h *history) add(e LogEntry) {
	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// tail returns up to n of the newest entries, oldest first.
func (h *history) tail(n int) []LogEntry {
	size := h.len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]LogEntry, 0, n)
	start := h.next - n
	if start < 0 {
		start += len(h.entries)
	}
	for i := range n {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}
