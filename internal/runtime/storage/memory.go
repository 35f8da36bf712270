package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drblury/hermes/internal/runtime/mailbox"
)

// Memory is an in-process store shared by every view opened on it, the way
// one origin's storage is shared by all of its pages.
type Memory struct {
	mu    sync.Mutex
	data  map[string]string
	views map[*MemoryView]struct{}
}

// Default is the process-wide backend used when none is supplied.
var Default = NewMemory()

func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string]string),
		views: make(map[*MemoryView]struct{}),
	}
}

// Open returns a new context's handle on the backend.
func (m *Memory) Open() *MemoryView {
	v := &MemoryView{backend: m, events: mailbox.New[Event]()}
	m.mu.Lock()
	m.views[v] = struct{}{}
	m.mu.Unlock()
	return v
}

// Len returns the number of keys currently stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// notifyLocked queues ev for every watching view except origin.
func (m *Memory) notifyLocked(origin *MemoryView, ev Event) {
	for v := range m.views {
		if v == origin || !v.watching {
			continue
		}
		v.events.Push(ev)
	}
}

// MemoryView is one context's handle on a Memory backend.
type MemoryView struct {
	backend  *Memory
	events   *mailbox.Mailbox[Event]
	watching bool
	closed   bool
}

var (
	_ Store   = (*MemoryView)(nil)
	_ Claimer = (*MemoryView)(nil)
)

func (v *MemoryView) Get(_ context.Context, key string) (string, bool, error) {
	v.backend.mu.Lock()
	defer v.backend.mu.Unlock()
	if v.closed {
		return "", false, errViewClosed
	}
	value, ok := v.backend.data[key]
	return value, ok, nil
}

func (v *MemoryView) Set(_ context.Context, key, value string) error {
	m := v.backend
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.closed {
		return errViewClosed
	}
	ev := Event{Key: key, NewValue: ptr(value)}
	if old, ok := m.data[key]; ok {
		if old == value {
			return nil
		}
		ev.OldValue = ptr(old)
	}
	m.data[key] = value
	m.notifyLocked(v, ev)
	return nil
}

func (v *MemoryView) SetIfAbsent(_ context.Context, key, value string) (bool, error) {
	m := v.backend
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.closed {
		return false, errViewClosed
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	m.notifyLocked(v, Event{Key: key, NewValue: ptr(value)})
	return true, nil
}

func (v *MemoryView) Remove(_ context.Context, key string) error {
	m := v.backend
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.closed {
		return errViewClosed
	}
	old, ok := m.data[key]
	if !ok {
		return nil
	}
	delete(m.data, key)
	m.notifyLocked(v, Event{Key: key, OldValue: ptr(old)})
	return nil
}

func (v *MemoryView) Watch(fn func(Event)) error {
	m := v.backend
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.closed {
		return errViewClosed
	}
	if v.watching {
		return fmt.Errorf("hermes: memory store view is already watched")
	}
	v.watching = true
	v.events.Start(fn)
	return nil
}

// Close detaches the view. Events not yet delivered are discarded; keys the
// view wrote stay in the backend.
func (v *MemoryView) Close() error {
	m := v.backend
	m.mu.Lock()
	if v.closed {
		m.mu.Unlock()
		return nil
	}
	v.closed = true
	delete(m.views, v)
	m.mu.Unlock()

	v.events.Close()
	return nil
}

var errViewClosed = errors.New("hermes: memory store view is closed")
