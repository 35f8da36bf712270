package shared

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/hermes/internal/runtime/broadcast"
	"github.com/drblury/hermes/internal/runtime/envelope"
	"github.com/drblury/hermes/internal/runtime/storage"
	"github.com/drblury/hermes/internal/runtime/variant"

	herrors "github.com/drblury/hermes/internal/runtime/errors"
)

type collector struct {
	mu  sync.Mutex
	got []string
	ch  chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 64)}
}

func (c *collector) listener() *broadcast.Listener {
	return broadcast.NewListener(func(p envelope.Payload) {
		c.mu.Lock()
		c.got = append(c.got, p.String())
		c.mu.Unlock()
		c.ch <- struct{}{}
	})
}

func (c *collector) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	return c.snapshot()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func newVariant(t *testing.T, store storage.Store, id string) *Variant {
	t.Helper()
	v, err := New(store, DefaultPrefix, variant.Deps{ContextID: id})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

// readOnlyStore hides the Claimer implementation of the wrapped store.
type readOnlyStore struct {
	storage.Store
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil, "", variant.Deps{})
	assert.ErrorIs(t, err, herrors.ErrStoreRequired)
}

func TestChatAcrossContexts(t *testing.T) {
	backend := storage.NewMemory()
	a := newVariant(t, backend.Open(), "a")
	b := newVariant(t, backend.Open(), "b")

	atA, atB := newCollector(), newCollector()
	a.Subscribe("chat", atA.listener())
	b.Subscribe("chat", atB.listener())

	require.NoError(t, a.Send(context.Background(), "chat", envelope.Payload(`"hi"`), false))

	assert.Equal(t, []string{`"hi"`}, atB.wait(t, 1))
	assert.Empty(t, atA.snapshot())
	assert.Equal(t, 0, backend.Len())
	assert.Equal(t, variant.NameStore, a.Name())
}

func TestSendsArriveInOrder(t *testing.T) {
	backend := storage.NewMemory()
	a := newVariant(t, backend.Open(), "a")
	b := newVariant(t, backend.Open(), "b")

	atB := newCollector()
	b.Subscribe("seq", atB.listener())

	ctx := context.Background()
	for _, p := range []string{`"P1"`, `"P2"`, `"P3"`} {
		require.NoError(t, a.Send(ctx, "seq", envelope.Payload(p), false))
	}

	assert.Equal(t, []string{`"P1"`, `"P2"`, `"P3"`}, atB.wait(t, 3))
}

func TestOccupiedSlotQueuesUntilCleared(t *testing.T) {
	for name, wrap := range map[string]func(storage.Store) storage.Store{
		"claimer":     func(s storage.Store) storage.Store { return s },
		"read-modify": func(s storage.Store) storage.Store { return readOnlyStore{s} },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := storage.NewMemory()
			holder := backend.Open()
			defer holder.Close()

			a := newVariant(t, wrap(backend.Open()), "a")
			b := newVariant(t, backend.Open(), "b")

			atB := newCollector()
			b.Subscribe("jobs", atB.listener())

			require.NoError(t, holder.Set(ctx, DefaultPrefix+"jobs", `"held"`))
			require.Equal(t, []string{`"held"`}, atB.wait(t, 1))

			require.NoError(t, a.Send(ctx, "jobs", envelope.Payload(`"P1"`), false))
			require.NoError(t, a.Send(ctx, "jobs", envelope.Payload(`"P2"`), false))
			assert.Equal(t, 2, a.QueueLen("jobs"))

			require.NoError(t, holder.Remove(ctx, DefaultPrefix+"jobs"))

			assert.Equal(t, []string{`"held"`, `"P1"`, `"P2"`}, atB.wait(t, 2))
			assert.Eventually(t, func() bool { return a.QueueLen("jobs") == 0 }, time.Second, 10*time.Millisecond)
			assert.Equal(t, 0, backend.Len())
		})
	}
}

func TestSendJoinsExistingQueue(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	holder := backend.Open()
	defer holder.Close()
	a := newVariant(t, backend.Open(), "a")

	require.NoError(t, holder.Set(ctx, DefaultPrefix+"t", `0`))
	b := newVariant(t, backend.Open(), "b")
	atB := newCollector()
	b.Subscribe("t", atB.listener())

	require.NoError(t, a.Send(ctx, "t", envelope.Payload(`1`), false))

	// The slot is free again but the queue is not empty yet, so the next
	// send must not overtake it.
	a.mu.Lock()
	require.NoError(t, holder.Remove(ctx, DefaultPrefix+"t"))
	a.mu.Unlock()
	require.NoError(t, a.Send(ctx, "t", envelope.Payload(`2`), false))

	assert.Equal(t, []string{`1`, `2`}, atB.wait(t, 2))
	assert.Eventually(t, func() bool { return a.QueueLen("t") == 0 }, time.Second, 10*time.Millisecond)
}

// slotLog records the raw store events one view observes.
type slotLog struct {
	mu     sync.Mutex
	events []string
}

func (l *slotLog) record(ev storage.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case ev.Appeared():
		l.events = append(l.events, "appeared "+*ev.NewValue)
	case ev.Cleared():
		l.events = append(l.events, "cleared")
	}
}

func (l *slotLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestEachSendWritesAndClearsTheSlot(t *testing.T) {
	backend := storage.NewMemory()
	watcher := backend.Open()
	t.Cleanup(func() { _ = watcher.Close() })
	log := &slotLog{}
	require.NoError(t, watcher.Watch(log.record))

	a := newVariant(t, backend.Open(), "a")
	ctx := context.Background()
	for _, p := range []string{`"P1"`, `"P2"`, `"P3"`} {
		require.NoError(t, a.Send(ctx, "seq", envelope.Payload(p), false))
	}

	want := []string{
		`appeared "P1"`, "cleared",
		`appeared "P2"`, "cleared",
		`appeared "P3"`, "cleared",
	}
	require.Eventually(t, func() bool { return len(log.snapshot()) == len(want) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, log.snapshot())
	assert.Equal(t, 0, backend.Len())
}

// flakyWriteStore lets the first write reach the backend and then reports
// an error, as a store does when its change notification fails.
type flakyWriteStore struct {
	*storage.MemoryView
	err    error
	failed bool
}

func (f *flakyWriteStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	ok, err := f.MemoryView.SetIfAbsent(ctx, key, value)
	if ok && err == nil && !f.failed {
		f.failed = true
		return true, f.err
	}
	return ok, err
}

func (f *flakyWriteStore) Set(ctx context.Context, key, value string) error {
	if err := f.MemoryView.Set(ctx, key, value); err != nil {
		return err
	}
	if !f.failed {
		f.failed = true
		return f.err
	}
	return nil
}

// stickyRemoveStore fails the first Remove without touching the backend.
type stickyRemoveStore struct {
	*storage.MemoryView
	err    error
	failed bool
}

func (s *stickyRemoveStore) Remove(ctx context.Context, key string) error {
	if !s.failed {
		s.failed = true
		return s.err
	}
	return s.MemoryView.Remove(ctx, key)
}

func TestUnclearedSlotIsClearedBeforeNextWrite(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("remove timed out")
	backend := storage.NewMemory()
	a := newVariant(t, &stickyRemoveStore{MemoryView: backend.Open(), err: boom}, "a")
	b := newVariant(t, backend.Open(), "b")

	atB := newCollector()
	b.Subscribe("t", atB.listener())

	assert.ErrorIs(t, a.Send(ctx, "t", envelope.Payload(`1`), false), boom)
	assert.Equal(t, 1, backend.Len())

	require.NoError(t, a.Send(ctx, "t", envelope.Payload(`2`), false))
	assert.Equal(t, []string{`1`, `2`}, atB.wait(t, 2))
	assert.Equal(t, 0, backend.Len())
	assert.Equal(t, 0, a.QueueLen("t"))
}

func TestFailedWriteStillClearsSlot(t *testing.T) {
	for name, wrap := range map[string]func(*flakyWriteStore) storage.Store{
		"claimer":     func(s *flakyWriteStore) storage.Store { return s },
		"read-modify": func(s *flakyWriteStore) storage.Store { return readOnlyStore{s} },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("notification lost")
			backend := storage.NewMemory()
			a := newVariant(t, wrap(&flakyWriteStore{MemoryView: backend.Open(), err: boom}), "a")
			b := newVariant(t, backend.Open(), "b")

			atA, atB := newCollector(), newCollector()
			a.Subscribe("t", atA.listener())
			b.Subscribe("t", atB.listener())

			assert.ErrorIs(t, a.Send(ctx, "t", envelope.Payload(`1`), false), boom)
			assert.Equal(t, 0, backend.Len())

			require.NoError(t, b.Send(ctx, "t", envelope.Payload(`2`), false))
			assert.Equal(t, []string{`2`}, atA.wait(t, 1))
			require.NoError(t, a.Send(ctx, "t", envelope.Payload(`3`), false))

			assert.Equal(t, []string{`1`, `3`}, atB.wait(t, 2))
			assert.Equal(t, 0, backend.Len())
			assert.Equal(t, 0, a.QueueLen("t"))
			assert.Equal(t, 0, b.QueueLen("t"))
		})
	}
}

func TestIncludeSelfDispatchesOnBothPaths(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	holder := backend.Open()
	defer holder.Close()
	a := newVariant(t, backend.Open(), "a")

	atA := newCollector()
	a.Subscribe("t", atA.listener())

	require.NoError(t, a.Send(ctx, "t", envelope.Payload(`"now"`), true))
	require.NoError(t, holder.Set(ctx, DefaultPrefix+"t", `"busy"`))
	require.NoError(t, a.Send(ctx, "t", envelope.Payload(`"later"`), true))

	var own []string
	for _, p := range atA.snapshot() {
		if p != `"busy"` {
			own = append(own, p)
		}
	}
	assert.Equal(t, []string{`"now"`, `"later"`}, own)
	assert.Equal(t, 1, a.QueueLen("t"))
}

func TestMalformedSlotValueIsDropped(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	writer := backend.Open()
	defer writer.Close()
	b := newVariant(t, backend.Open(), "b")

	atB := newCollector()
	b.Subscribe("t", atB.listener())

	require.NoError(t, writer.Set(ctx, DefaultPrefix+"t", `{broken`))
	require.NoError(t, writer.Remove(ctx, DefaultPrefix+"t"))
	require.NoError(t, writer.Set(ctx, DefaultPrefix+"t", `"ok"`))

	assert.Equal(t, []string{`"ok"`}, atB.wait(t, 1))
}

func TestForeignKeysAreIgnored(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	writer := backend.Open()
	defer writer.Close()
	b := newVariant(t, backend.Open(), "b")

	atB := newCollector()
	b.Subscribe("t", atB.listener())

	require.NoError(t, writer.Set(ctx, "theme", `"dark"`))
	require.NoError(t, writer.Set(ctx, DefaultPrefix+"t", `1`))

	assert.Equal(t, []string{`1`}, atB.wait(t, 1))
}

type failingStore struct {
	storage.Store
	err error
}

func (f failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, f.err
}

func TestSendReportsStoreFailure(t *testing.T) {
	boom := errors.New("store offline")
	a := newVariant(t, failingStore{Store: storage.NewMemory().Open(), err: boom}, "a")

	err := a.Send(context.Background(), "t", envelope.Payload(`1`), false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, a.QueueLen("t"))
}

func TestClosedVariantRejectsSend(t *testing.T) {
	a := newVariant(t, storage.NewMemory().Open(), "a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	atA := newCollector()
	a.Subscribe("t", atA.listener())

	err := a.Send(context.Background(), "t", envelope.Payload(`1`), true)
	assert.ErrorIs(t, err, herrors.ErrClosed)
	assert.Empty(t, atA.snapshot())
}
