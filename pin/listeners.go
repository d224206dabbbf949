package pin

import "sync"

type Listener func(ev StateChangeEvent)

// ListenerHandle identifies a registration. The zero handle is never issued.
type ListenerHandle uint64

type listenerEntry struct {
	handle ListenerHandle
	fn     Listener
}

// Listeners is an ordered listener registry. The zero value is ready to use.
type Listeners struct {
	mu      sync.Mutex
	next    ListenerHandle
	entries []listenerEntry
}

func (l *Listeners) Add(fn Listener) ListenerHandle {
	if fn == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	l.entries = append(l.entries, listenerEntry{handle: l.next, fn: fn})
	return l.next
}

func (l *Listeners) Remove(h ListenerHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.handle == h {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Listeners) RemoveAll() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Emit calls every listener in registration order on the calling goroutine.
// The registry lock is not held while listeners run, so they may add or
// remove registrations.
func (l *Listeners) Emit(ev StateChangeEvent) {
	l.mu.Lock()
	entries := l.entries
	l.mu.Unlock()

	for _, e := range entries {
		e.fn(ev)
	}
}
