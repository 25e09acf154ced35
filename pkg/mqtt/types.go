package mqtt

import (
	"context"
)

// MessageHandler processes one received message. Handlers run on the client's
// delivery goroutine in receipt order, so they must hand work off quickly.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Publisher is the publishing half of Client.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
}

// Client abstracts the underlying paho implementation.
type Client interface {
	Publisher

	// Start initiates the connection to the broker. It does not block; use
	// AwaitConnection to wait for the first CONNACK.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	// Subscribe registers a handler for a topic filter. Registered filters are
	// re-subscribed after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	// IsConnected reports whether the last connection attempt succeeded and has
	// not been lost since.
	IsConnected() bool
}
