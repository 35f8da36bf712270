/*
Package runtime provides the core cross-context broadcast infrastructure for hermes.

# Architecture Overview

A Bus is one context's handle on a topic-keyed broadcast shared with every
other context that joined the same channel, relay or store. Each Bus owns a
local listener registry and exactly one transport variant, chosen once when
the Bus is created.

# Package Structure

## Bus (bus.go)

The Bus struct wires together:
  - The local broadcast registry
  - The selected transport variant
  - Prometheus collectors and the OpenTelemetry send span
  - Send hooks

## Transport Selection (selector.go, candidates.go)

Candidates are probed in a fixed order:
  - fanout: a watermill fan-out backend (in-process channel, NATS, RabbitMQ, Kafka)
  - relay: a WebSocket connection to a hermes-relay hub
  - store: a shared key/value store (memory, Redis, PostgreSQL)
  - fallback: local-only delivery

A probe that reports ErrCapabilityAbsent is skipped silently. Any other probe
error is logged and the next candidate is tried. The fallback never fails.

## Hooks (hooks.go)

SendHooks observe every Send call without touching the transport.

# Sub-packages

  - broadcast: topic to listener registry with panic isolation
  - config: environment-based configuration
  - envelope: payload and wire envelopes
  - errors: sentinel errors
  - fallback, fanout, relay, shared: the transport variants
  - ids: context identifiers
  - jsoncodec: JSON encoding via sonic
  - logging: ServiceLogger and watermill adapters
  - mailbox: unbounded single-consumer queue
  - metrics: Prometheus collectors
  - storage: shared store backends
  - transport: fan-out backend factory
  - variant: the contract shared by every variant

# Thread Safety

Bus methods are safe for concurrent use. Listeners run on the transport's
receive goroutine, one message at a time, and may call Send, Subscribe and
Unsubscribe.
*/
package runtime
