package wallet

import "sync"

// AuthListener observes authorization lifecycle events. OnAuthChange
// fires on every transition that affects whether sync/auth guard
// conditions hold; OnAuthError carries an optional detail string (empty
// detail clears a previously reported error).
type AuthListener interface {
	OnAuthChange()
	OnAuthError(detail string)
}

// AuthChangeFunc adapts a func to an AuthListener that ignores errors.
type AuthChangeFunc func()

func (f AuthChangeFunc) OnAuthChange()      { f() }
func (f AuthChangeFunc) OnAuthError(string) {}

// AuthEvents is the process-wide authorization event bus. Listeners are
// invoked synchronously, so every registered listener has observed an
// event before the operation that emitted it returns; a listener
// reacting to "now authorized" is guaranteed to see the updated
// persisted metadata.
type AuthEvents struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]AuthListener
}

// NewAuthEvents creates an empty bus.
func NewAuthEvents() *AuthEvents {
	return &AuthEvents{listeners: map[int]AuthListener{}}
}

// Subscribe registers l; the returned cancel removes it.
func (e *AuthEvents) Subscribe(l AuthListener) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *AuthEvents) snapshot() []AuthListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AuthListener, 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l)
	}
	return out
}

// EmitChange delivers an authorization-change signal to all listeners
// before returning.
func (e *AuthEvents) EmitChange() {
	for _, l := range e.snapshot() {
		l.OnAuthChange()
	}
}

// EmitError delivers an authorization-error signal to all listeners
// before returning.
func (e *AuthEvents) EmitError(detail string) {
	for _, l := range e.snapshot() {
		l.OnAuthError(detail)
	}
}
