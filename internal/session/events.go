package session

import "sync"

// Event is a coarse session lifecycle notification. Security detail (why a
// session died) is deliberately not part of the payload.
type Event int

const (
	// EventLoggedIn fires after a session is populated.
	EventLoggedIn Event = iota
	// EventLoggedOut fires after an explicit logout.
	EventLoggedOut
	// EventSessionExpired fires when a refresh failed and the session was
	// cleared; collaborators should route the user to re-login.
	EventSessionExpired
)

// EventHandler receives session events. Handlers run synchronously on the
// notifying goroutine and must not block.
type EventHandler func(Event)

// eventRegistry is a subscriber list with unsubscribe semantics, so
// short-lived collaborators do not accumulate forever.
type eventRegistry struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]EventHandler
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{handlers: make(map[int]EventHandler)}
}

func (r *eventRegistry) subscribe(h EventHandler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[r.nextID] = h
	return r.nextID
}

func (r *eventRegistry) unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

func (r *eventRegistry) notify(e Event) {
	r.mu.Lock()
	handlers := make([]EventHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}
