// Package broadcast holds the per-context listener registry: topic-keyed,
// ordered listener lists with fault-isolated dispatch.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/drblury/hermes/internal/runtime/envelope"
	"github.com/drblury/hermes/internal/runtime/logging"
)

// Listener receives payloads for the topics it is subscribed to. Listeners are
// compared by pointer, so keep the value returned by NewListener to
// unsubscribe it later.
type Listener struct {
	fn func(envelope.Payload)
}

// NewListener wraps fn in a Listener.
func NewListener(fn func(envelope.Payload)) *Listener {
	return &Listener{fn: fn}
}

// PanicObserver is notified when a listener panics during dispatch.
type PanicObserver interface {
	ListenerPanicked(topic string)
}

// Registry maps topics to ordered listener lists. A topic key only exists
// while it has at least one listener.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string][]*Listener

	logger   logging.ServiceLogger
	observer PanicObserver
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(logger logging.ServiceLogger, observer PanicObserver) *Registry {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Registry{
		listeners: make(map[string][]*Listener),
		logger:    logger,
		observer:  observer,
	}
}

// Subscribe appends l to the topic's list. The same listener may be registered
// more than once and then fires once per registration.
func (r *Registry) Subscribe(topic string, l *Listener) {
	if l == nil || l.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[topic] = append(r.listeners[topic], l)
}

// Unsubscribe removes the first registration of l from topic. A nil listener
// removes every listener of the topic. Unknown topics and listeners are
// ignored.
func (r *Registry) Unsubscribe(topic string, l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.listeners[topic]
	if !ok {
		return
	}
	if l == nil {
		delete(r.listeners, topic)
		return
	}

	for i, candidate := range current {
		if candidate != l {
			continue
		}
		next := make([]*Listener, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, topic)
		} else {
			r.listeners[topic] = next
		}
		return
	}
}

// Dispatch calls every listener registered for topic, in registration order.
// Listeners run on the caller's goroutine against a snapshot of the list, so
// they may subscribe or unsubscribe while being dispatched. A panicking
// listener is logged and skipped.
func (r *Registry) Dispatch(topic string, payload envelope.Payload) {
	r.mu.RLock()
	snapshot := r.listeners[topic]
	r.mu.RUnlock()

	for _, l := range snapshot {
		r.invoke(topic, l, payload)
	}
}

func (r *Registry) invoke(topic string, l *Listener, payload envelope.Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Listener panicked", fmt.Errorf("panic: %v", rec), logging.LogFields{"topic": topic})
			if r.observer != nil {
				r.observer.ListenerPanicked(topic)
			}
		}
	}()
	l.fn(payload)
}

// Len returns the number of registrations for topic.
func (r *Registry) Len(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[topic])
}

// Topics returns the topics that currently have listeners.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.listeners))
	for topic := range r.listeners {
		topics = append(topics, topic)
	}
	return topics
}
