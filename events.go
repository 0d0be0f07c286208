package syncache

import (
	"fmt"
	"sync"
)

// Event names observable on every endpoint.
const (
	// EventWrapped fires after a raw record is wrapped into its instance shape.
	EventWrapped = "wrapped"
	// EventError fires when an endpoint routes a failure through its error path.
	EventError = "error"
	// EventSendingReadQuery fires before a client endpoint issues a read to the host.
	EventSendingReadQuery = "sendingReadQueryToHost"
	// EventUpdating fires with the filtered delta before local storage mutates.
	EventUpdating = "updating"
	// EventUpdated fires with the applied delta after local storage mutated.
	EventUpdated = "updated"
	// EventRemoved fires after an object left the local cache.
	EventRemoved = "removed"
)

var knownEvents = map[string]struct{}{
	EventWrapped:          {},
	EventError:            {},
	EventSendingReadQuery: {},
	EventUpdating:         {},
	EventUpdated:          {},
	EventRemoved:          {},
}

// Event is the payload delivered to subscribed handlers. Which fields are
// populated depends on the event name.
type Event struct {
	Cache   string
	Name    string
	Object  Object   // wrapped, removed
	Objects []Object // updating, updated
	Input   any      // sendingReadQueryToHost
	Err     error    // error
}

type EventHandler func(Event)

// emitter dispatches events synchronously in subscription order. Handlers
// run outside the endpoint's storage lock, so they may read the cache.
type emitter struct {
	cache string

	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func newEmitter(cache string) *emitter {
	return &emitter{cache: cache, handlers: make(map[string][]EventHandler)}
}

func (e *emitter) on(event string, h EventHandler) error {
	if _, ok := knownEvents[event]; !ok {
		return fmt.Errorf("syncache %q: unknown event %q", e.cache, event)
	}
	if h == nil {
		return fmt.Errorf("syncache %q: nil handler for event %q", e.cache, event)
	}
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], h)
	e.mu.Unlock()
	return nil
}

func (e *emitter) emit(ev Event) {
	ev.Cache = e.cache
	e.mu.RLock()
	hs := e.handlers[ev.Name]
	e.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}
