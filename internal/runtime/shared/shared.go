// Package shared implements the store transport: each topic owns one slot
// key in a shared store. A send writes the payload into the slot and clears
// it right away; other contexts react to the write. While the slot is
// occupied, sends wait in a per-topic FIFO queue that drains whenever the
// slot is cleared.
package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/drblury/hermes/internal/runtime/envelope"
	"github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/metrics"
	"github.com/drblury/hermes/internal/runtime/storage"
	"github.com/drblury/hermes/internal/runtime/variant"

	herrors "github.com/drblury/hermes/internal/runtime/errors"
)

// DefaultPrefix namespaces slot keys inside the store.
const DefaultPrefix = "__hermes:"

// Variant delivers through one slot key per topic in a shared store.
type Variant struct {
	variant.Base

	store   storage.Store
	claimer storage.Claimer
	prefix  string

	// mu serializes the slot check, the write and queue mutations so a send
	// and a drain never interleave.
	mu     sync.Mutex
	queues map[string][]envelope.Payload
	// stale holds payloads this context wrote but failed to clear, by key.
	stale  map[string]string
	closed bool
}

// New starts watching store. When the store implements storage.Claimer the
// slot is claimed atomically; otherwise a read precedes the write.
func New(store storage.Store, prefix string, deps variant.Deps) (*Variant, error) {
	if store == nil {
		return nil, herrors.ErrStoreRequired
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	v := &Variant{
		Base:   variant.NewBase(variant.NameStore, deps),
		store:  store,
		prefix: prefix,
		queues: make(map[string][]envelope.Payload),
		stale:  make(map[string]string),
	}
	if c, ok := store.(storage.Claimer); ok {
		v.claimer = c
	}
	if err := store.Watch(v.handleEvent); err != nil {
		return nil, fmt.Errorf("failed to watch store: %w", err)
	}
	return v, nil
}

func (v *Variant) key(topic string) string {
	return v.prefix + topic
}

// Send transmits payload, or queues it behind earlier sends for the topic.
// A queued send reports success.
func (v *Variant) Send(ctx context.Context, topic string, payload envelope.Payload, includeSelf bool) error {
	err := v.send(ctx, topic, payload)
	if includeSelf && !errors.Is(err, herrors.ErrClosed) {
		v.DispatchLocal(topic, payload)
	}
	return err
}

func (v *Variant) send(ctx context.Context, topic string, payload envelope.Payload) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return herrors.ErrClosed
	}

	key := v.key(topic)
	if _, waiting := v.queues[key]; waiting {
		v.enqueueLocked(key, topic, payload)
		return nil
	}

	sent, err := v.transmit(ctx, key, payload)
	if !sent {
		if err != nil {
			v.Metrics.Dropped(variant.NameStore, metrics.ReasonSendFailed)
			return err
		}
		v.enqueueLocked(key, topic, payload)
	}
	return err
}

func (v *Variant) enqueueLocked(key, topic string, payload envelope.Payload) {
	v.queues[key] = append(v.queues[key], payload)
	depth := len(v.queues[key])
	v.Metrics.Queued(topic, depth)
	v.Logger.Debug("Slot occupied, send queued", logging.LogFields{"topic": topic, "depth": depth})
}

// transmit writes payload into the slot and clears it. It reports false
// without writing when the slot is occupied. Once the write reached the store
// the slot is always cleared again and transmit reports true, together with
// any write or clear error.
func (v *Variant) transmit(ctx context.Context, key string, payload envelope.Payload) (bool, error) {
	if err := v.clearStale(ctx, key); err != nil {
		return false, err
	}

	var werr error
	if v.claimer != nil {
		claimed, err := v.claimer.SetIfAbsent(ctx, key, string(payload))
		if !claimed {
			return false, err
		}
		werr = err
	} else {
		_, occupied, err := v.store.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if occupied {
			return false, nil
		}
		if err := v.store.Set(ctx, key, string(payload)); err != nil {
			if !v.holds(ctx, key, payload) {
				return false, err
			}
			werr = err
		}
	}

	if werr == nil {
		v.Metrics.Sent(variant.NameStore)
	}
	if err := v.store.Remove(ctx, key); err != nil {
		v.stale[key] = string(payload)
		return true, errors.Join(werr, fmt.Errorf("failed to clear slot %q: %w", key, err))
	}
	return true, werr
}

// clearStale removes a value left behind by an earlier failed clear, unless
// the slot has changed since.
func (v *Variant) clearStale(ctx context.Context, key string) error {
	old, ok := v.stale[key]
	if !ok {
		return nil
	}
	value, occupied, err := v.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if occupied && value == old {
		if err := v.store.Remove(ctx, key); err != nil {
			return fmt.Errorf("failed to clear slot %q: %w", key, err)
		}
	}
	delete(v.stale, key)
	return nil
}

// holds reports whether the slot still carries payload after a failed write.
func (v *Variant) holds(ctx context.Context, key string, payload envelope.Payload) bool {
	value, ok, err := v.store.Get(ctx, key)
	return err == nil && ok && value == string(payload)
}

func (v *Variant) handleEvent(ev storage.Event) {
	if !strings.HasPrefix(ev.Key, v.prefix) {
		return
	}
	switch {
	case ev.Appeared():
		v.ReceiveText(strings.TrimPrefix(ev.Key, v.prefix), []byte(*ev.NewValue))
	case ev.Cleared():
		v.drain(ev.Key)
	}
}

// drain transmits queued payloads in order while the slot stays free. A
// payload that cannot be transmitted stays at the head of the queue.
func (v *Variant) drain(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	queue, ok := v.queues[key]
	if !ok {
		return
	}
	topic := strings.TrimPrefix(key, v.prefix)
	ctx := context.Background()

	for len(queue) > 0 {
		sent, err := v.transmit(ctx, key, queue[0])
		if err != nil {
			v.Logger.Error("Failed to transmit queued message", err, logging.LogFields{"topic": topic})
		}
		if !sent {
			break
		}
		queue[0] = nil
		queue = queue[1:]
	}

	if len(queue) == 0 {
		delete(v.queues, key)
	} else {
		v.queues[key] = queue
	}
	v.Metrics.QueueDepth(topic, len(queue))
}

// QueueLen returns the number of sends waiting for the topic's slot.
func (v *Variant) QueueLen(topic string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queues[v.key(topic)])
}

// Close stops watching the store and discards queued sends.
func (v *Variant) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	pending := 0
	for _, q := range v.queues {
		pending += len(q)
	}
	v.queues = nil
	v.mu.Unlock()

	if pending > 0 {
		v.Logger.Warn("Discarding queued sends on close", logging.LogFields{"pending": pending})
	}
	return v.store.Close()
}
