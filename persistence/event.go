package persistence

import "sync"

// Listener is a single subscription to an Event. Close unsubscribes; closing
// twice is harmless.
type Listener[T any] struct {
	event *Event[T]
	id    int
	fn    func(T)
}

func (l *Listener[T]) Close() {
	if l.event == nil {
		return
	}
	l.event.mu.Lock()
	delete(l.event.listeners, l.id)
	l.event.mu.Unlock()
	l.event = nil
}

// Event is a minimal observer registry. Fire invokes every listener on the
// calling goroutine; listeners registered or closed during a fire take effect
// on the next fire.
type Event[T any] struct {
	mu        sync.Mutex
	listeners map[int]*Listener[T]
	nextID    int
}

func (e *Event[T]) Listen(fn func(T)) *Listener[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]*Listener[T])
	}
	listener := &Listener[T]{event: e, id: e.nextID, fn: fn}
	e.listeners[e.nextID] = listener
	e.nextID++
	return listener
}

func (e *Event[T]) Fire(value T) {
	e.mu.Lock()
	fns := make([]func(T), 0, len(e.listeners))
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	// stable order keeps notification sequences deterministic
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		fns = append(fns, e.listeners[id].fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

// Signal is an Event with no payload.
type Signal = Event[struct{}]

// FireSignal fires a payload-less event.
func FireSignal(s *Signal) {
	s.Fire(struct{}{})
}
