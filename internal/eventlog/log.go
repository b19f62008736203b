package eventlog

import (
	"sync"

	"doorwatch/internal/model"
)

// Log is the bounded, newest-first event store. Appends prepend and truncate
// to capacity; reads hand out copies so consumers never share the backing
// slice. Listeners get the appended event plus a fresh snapshot after every
// mutation.
type Log struct {
	mu        sync.RWMutex
	buf       []model.Event
	capacity  int
	listeners []Listener
}

type Listener func(appended *model.Event, snapshot []model.Event)

const DefaultCapacity = 200

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf:      make([]model.Event, 0, capacity),
		capacity: capacity,
	}
}

// Append inserts at the head, drops the oldest once over capacity.
func (l *Log) Append(ev model.Event) {
	l.mu.Lock()
	if len(l.buf) < l.capacity {
		l.buf = append(l.buf, model.Event{})
	}
	copy(l.buf[1:], l.buf)
	l.buf[0] = ev
	snapshot := l.snapshotLocked()
	listeners := l.listeners
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(&ev, snapshot)
	}
}

// Clear resets the log to empty. Connection state is untouched.
func (l *Log) Clear() {
	l.mu.Lock()
	l.buf = l.buf[:0]
	snapshot := l.snapshotLocked()
	listeners := l.listeners
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(nil, snapshot)
	}
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

func (l *Log) Capacity() int {
	return l.capacity
}

// Snapshot returns a copy of the log, newest first.
func (l *Log) Snapshot() []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Recent returns at most limit entries from the head. limit <= 0 means all.
func (l *Log) Recent(limit int) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.buf) {
		limit = len(l.buf)
	}
	out := make([]model.Event, limit)
	copy(out, l.buf[:limit])
	return out
}

// Subscribe registers a listener invoked after every append or clear.
// Registration order is delivery order; listeners run on the mutating
// goroutine and must not block.
func (l *Log) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	listeners := make([]Listener, len(l.listeners), len(l.listeners)+1)
	copy(listeners, l.listeners)
	l.listeners = append(listeners, fn)
	l.mu.Unlock()
}

func (l *Log) snapshotLocked() []model.Event {
	out := make([]model.Event, len(l.buf))
	copy(out, l.buf)
	return out
}
