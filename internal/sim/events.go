package sim

// Event is a single entry in an entity's audit trail.
type Event struct {
	Tick    int            `json:"tick"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details"`
}

// Log is an append-only ordered event record. Entries are never mutated,
// truncated, or compacted once written.
type Log struct {
	entries []Event
}

func (l *Log) append(tick int, evtType string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	l.entries = append(l.entries, Event{Tick: tick, Type: evtType, Details: details})
}

// Events returns the full ordered history. Callers must treat the
// returned slice as read-only.
func (l *Log) Events() []Event {
	return l.entries
}

// Len reports how many events have been recorded.
func (l *Log) Len() int { return len(l.entries) }

// Since returns the events appended at or after index n. It is the
// cursor primitive used when flushing logs incrementally.
func (l *Log) Since(n int) []Event {
	if n < 0 {
		n = 0
	}
	if n >= len(l.entries) {
		return nil
	}
	return l.entries[n:]
}
