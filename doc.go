// Package hermes broadcasts topic-keyed messages between independent
// contexts: processes, services or goroutine groups that each create their
// own Bus. A message sent on one Bus reaches the listeners subscribed to the
// same topic on every other Bus, and never the sender unless it asks for it
// with WithIncludeSelf.
//
// New reads the transport settings from Config and probes the available
// transports once, in a fixed order. The first one that comes up carries all
// traffic for the lifetime of the Bus.
//
// # Transports
//
//   - channel: a named fan-out channel on a watermill backend. The "channel"
//     backend connects buses inside one process; "nats", "rabbitmq" and
//     "kafka" connect processes through a broker.
//   - relay: a WebSocket connection to a hermes-relay hub, which forwards each
//     frame to every other connected peer.
//   - store: a shared key/value store used as a mailbox. Each topic has one
//     slot that is written and cleared immediately; watchers of the store see
//     the write and dispatch it. Sends that find the slot occupied wait in a
//     per-topic FIFO queue until the slot clears. Backends: in-process memory,
//     Redis (keyspace plus PUBLISH) and PostgreSQL (LISTEN/NOTIFY).
//   - fallback: no cross-context delivery. Send only reaches local listeners
//     when WithIncludeSelf is set.
//
// # Delivery
//
// Delivery is best effort and at most once. Messages from one sender arrive
// in send order on every transport. Listeners run on the transport's receive
// goroutine; a panicking listener is recovered and the remaining listeners
// still run.
//
// # Observability
//
// Setting Config.MetricsEnabled or Dependencies.Registerer registers the
// hermes_* Prometheus collectors. Each Send runs inside an OpenTelemetry
// producer span named "hermes.send".
package hermes
