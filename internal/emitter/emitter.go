// Package emitter provides a named-channel listener registry.
package emitter

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrEmptyName is returned when registering on an unnamed channel.
	ErrEmptyName = errors.New("emitter: channel name must not be empty")
	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("emitter: handler must not be nil")
)

// ListenerID identifies a registration for later removal.
type ListenerID uint64

// Handler receives one emitted payload.
type Handler[T any] func(T)

// PanicHandler is told about a handler that panicked during Emit.
type PanicHandler func(channel string, recovered any)

type listener[T any] struct {
	id      ListenerID
	handler Handler[T]
}

// Emitter maps channel names to insertion-ordered listener lists. It is safe
// for concurrent use; handlers may register and remove listeners while a
// dispatch is in progress.
type Emitter[T any] struct {
	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[string][]listener[T]
	onPanic   PanicHandler
}

// Option configures an Emitter.
type Option func(*options)

type options struct {
	onPanic PanicHandler
}

// WithPanicHandler sets the hook invoked when a handler panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(o *options) {
		o.onPanic = h
	}
}

// New creates an empty emitter.
func New[T any](opts ...Option) *Emitter[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Emitter[T]{
		listeners: make(map[string][]listener[T]),
		onPanic:   o.onPanic,
	}
}

// On registers handler on channel name.
func (e *Emitter[T]) On(name string, handler Handler[T]) (ListenerID, error) {
	if name == "" {
		return 0, ErrEmptyName
	}
	if handler == nil {
		return 0, ErrNilHandler
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[name] = append(e.listeners[name], listener[T]{id: id, handler: handler})
	return id, nil
}

// Once registers a handler that is removed before its first invocation.
func (e *Emitter[T]) Once(name string, handler Handler[T]) (ListenerID, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}

	var (
		fired atomic.Bool
		id    ListenerID
	)
	ready := make(chan struct{})
	id, err := e.On(name, func(payload T) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		<-ready
		e.Off(name, id)
		handler(payload)
	})
	close(ready)
	return id, err
}

// Off removes a registration. Unknown ids are ignored.
func (e *Emitter[T]) Off(name string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[name]
	for i, l := range current {
		if l.id != id {
			continue
		}
		// Copy so snapshots held by in-flight Emit calls stay intact.
		next := make([]listener[T], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return
	}
}

// Emit calls every handler registered on name at the moment of the call, in
// registration order, and returns how many were called. A panicking handler
// is recovered and does not stop the remaining ones.
func (e *Emitter[T]) Emit(name string, payload T) int {
	e.mu.RLock()
	snapshot := e.listeners[name]
	e.mu.RUnlock()

	for _, l := range snapshot {
		e.invoke(name, l.handler, payload)
	}
	return len(snapshot)
}

func (e *Emitter[T]) invoke(name string, handler Handler[T], payload T) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(name, r)
		}
	}()
	handler(payload)
}

// HasListeners reports whether name has at least one handler.
func (e *Emitter[T]) HasListeners(name string) bool {
	return e.ListenerCount(name) > 0
}

// ListenerCount returns the number of handlers on name.
func (e *Emitter[T]) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}
