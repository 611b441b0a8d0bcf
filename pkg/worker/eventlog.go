package worker

import (
	"sync"

	"github.com/cuemby/gatewayd/pkg/types"
)

// EventLog is a bounded, in-memory, per-project ring buffer of audit
// events. It backs the admin surface's project event tail; it is not
// persisted, so history does not survive a restart.
type EventLog struct {
	mu       sync.Mutex
	capacity int
	byProj   map[string][]types.Event
}

// NewEventLog creates a log retaining up to capacity events per project.
func NewEventLog(capacity int) *EventLog {
	return &EventLog{capacity: capacity, byProj: make(map[string][]types.Event)}
}

// Record appends ev to its project's ring, dropping the oldest entry once
// the project's log reaches capacity.
func (l *EventLog) Record(ev types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := append(l.byProj[ev.ProjectName], ev)
	if len(entries) > l.capacity {
		entries = entries[len(entries)-l.capacity:]
	}
	l.byProj[ev.ProjectName] = entries
}

// For returns a copy of the recorded events for a project, oldest first.
func (l *EventLog) For(projectName string) []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byProj[projectName]
	out := make([]types.Event, len(entries))
	copy(out, entries)
	return out
}
