package mqtt

import (
	"context"
)

// MessageHandler processes one received message. Handlers of one client run
// on a single goroutine, one at a time, in the order messages were received.
// A slow handler delays every later message of that client, so a handler
// must not wait for a QoS 1 or 2 publication on the same client.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is a reconnecting MQTT client.
type Client interface {
	// Start initiates the connection to the broker.
	// It is non-blocking and returns immediately. Use AwaitConnection to wait.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers a handler for a topic filter. Registered filters
	// are subscribed again after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	// IsConnected reports whether the broker connection is currently up.
	IsConnected() bool
}
