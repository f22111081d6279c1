// Package transport carries encoded operations between peers.
//
// The replication core assumes nothing about a Transport beyond the
// interface below: no ordering, no delivery guarantee, no peer discovery.
// Duplicate and reordered delivery are tolerated upstream by the
// operation log's idempotent append.
//
// Two implementations ship with the engine: an in-process Bus used by
// tests and single-process demos, and a websocket hub/client pair for
// real deployments.
package transport

import "context"

// Transport broadcasts opaque payloads to a topic and yields payloads
// published by peers on topics this node subscribed to.
type Transport interface {
	// Broadcast publishes data to every peer subscribed to topic.
	// Best-effort: an error means this send failed, not that delivery
	// elsewhere succeeded.
	Broadcast(ctx context.Context, topic string, data []byte) error

	// Subscribe returns a channel of payloads received on topic, plus a
	// cancel function that stops delivery and closes the channel.
	// Payloads a node broadcast itself are not delivered back to it.
	Subscribe(topic string) (<-chan []byte, func(), error)

	// Close releases the transport. Subscriptions are cancelled.
	Close() error
}
