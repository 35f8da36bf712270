// Package mailbox provides an unbounded FIFO drained by a single goroutine.
// Producers never block, which keeps event delivery from ever waiting on a
// consumer that may itself be waiting on the producer.
package mailbox

import "sync"

// Mailbox queues items and hands them to one consumer in push order.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It reports false once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.wake()
	return true
}

// Start runs fn for every item on a new goroutine. Calling Start more than
// once has no effect.
func (m *Mailbox[T]) Start(fn func(T)) {
	m.once.Do(func() {
		go m.run(fn)
	})
}

func (m *Mailbox[T]) run(fn func(T)) {
	defer close(m.done)
	for {
		item, ok := m.next()
		if !ok {
			return
		}
		fn(item)
	}
}

func (m *Mailbox[T]) next() (T, bool) {
	var zero T
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return zero, false
		}
		if len(m.items) > 0 {
			item := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return item, true
		}
		m.mu.Unlock()
		<-m.signal
	}
}

func (m *Mailbox[T]) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Close stops delivery. Items still queued are discarded. Close does not wait
// for the consumer, so it is safe to call from inside fn; use Done to wait.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.items = nil
	m.mu.Unlock()
	m.wake()
}

// Done is closed when the consumer goroutine has exited. It never closes if
// Start was not called.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// Len returns the number of items waiting for delivery.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
