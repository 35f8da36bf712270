// Package storage provides the shared key-value stores behind the store
// transport. Every store handle belongs to one context: Watch reports
// mutations made through other handles, never the handle's own.
package storage

import (
	"context"

	"github.com/drblury/hermes/internal/runtime/jsoncodec"
)

// Store is a string key-value store that announces mutations to the other
// contexts sharing it.
type Store interface {
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not a mutation and
	// produces no event.
	Remove(ctx context.Context, key string) error
	// Watch registers fn for mutations made by other contexts. Events reach
	// fn one at a time, in the order the store applied them, on a goroutine
	// owned by the store. Watch may be called once per handle.
	Watch(fn func(Event)) error
	Close() error
}

// Claimer is implemented by stores that can write a key only when it is
// absent, atomically across contexts.
type Claimer interface {
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
}

// Event describes one mutation. A nil OldValue means the key did not exist;
// a nil NewValue means it was removed.
type Event struct {
	Key      string
	OldValue *string
	NewValue *string
}

// Appeared reports whether the key was created by this mutation.
func (e Event) Appeared() bool {
	return e.OldValue == nil && e.NewValue != nil
}

// Cleared reports whether the key was removed by this mutation.
func (e Event) Cleared() bool {
	return e.NewValue == nil
}

// wireEvent is the notification body published by networked stores.
type wireEvent struct {
	Key    string  `json:"key"`
	Old    *string `json:"old"`
	New    *string `json:"new"`
	Origin string  `json:"origin"`
}

func encodeEvent(origin string, ev Event) ([]byte, error) {
	return jsoncodec.Marshal(wireEvent{Key: ev.Key, Old: ev.OldValue, New: ev.NewValue, Origin: origin})
}

func decodeEvent(data []byte) (Event, string, error) {
	var w wireEvent
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return Event{}, "", err
	}
	return Event{Key: w.Key, OldValue: w.Old, NewValue: w.New}, w.Origin, nil
}

func ptr(s string) *string {
	return &s
}
