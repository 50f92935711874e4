// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"context"
	"errors"
	"sync"

	"github.com/autopeer-io/podstate/pkg/mqtt"
)

// Message is one publication recorded by Client.
type Message struct {
	Topic   string
	QoS     int
	Retain  bool
	Payload []byte
}

// Client records publications and lets tests deliver messages to handlers.
type Client struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	published []Message
	handlers  map[string]mqtt.MessageHandler

	// PublishErr, when set, is returned by every Publish.
	PublishErr error
	// Published receives every recorded message when non-nil.
	Published chan Message
}

var _ mqtt.Client = (*Client)(nil)

// NewClient returns an unstarted fake.
func NewClient() *Client {
	return &Client{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *Client) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *Client) Publish(_ context.Context, topic string, qos int, retain bool, payload []byte) error {
	c.mu.Lock()
	if c.PublishErr != nil {
		err := c.PublishErr
		c.mu.Unlock()
		return err
	}
	msg := Message{Topic: topic, QoS: qos, Retain: retain, Payload: append([]byte(nil), payload...)}
	c.published = append(c.published, msg)
	ch := c.Published
	c.mu.Unlock()

	if ch != nil {
		ch <- msg
	}
	return nil
}

func (c *Client) Subscribe(_ context.Context, topic string, _ int, handler mqtt.MessageHandler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *Client) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	return nil
}

func (c *Client) AwaitConnection(ctx context.Context) error {
	return ctx.Err()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}

// Deliver runs every handler whose filter matches topic, synchronously, so
// successive calls are handled in call order like the real client's inbox.
// It returns the number of handlers run.
func (c *Client) Deliver(ctx context.Context, topic string, payload []byte) int {
	c.mu.Lock()
	var matched []mqtt.MessageHandler
	for filter, h := range c.handlers {
		if mqtt.Match(filter, topic) {
			matched = append(matched, h)
		}
	}
	c.mu.Unlock()

	for _, h := range matched {
		h(ctx, topic, payload)
	}
	return len(matched)
}

// Messages returns a copy of everything published so far.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Subscriptions returns the subscribed filters.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.handlers))
	for f := range c.handlers {
		out = append(out, f)
	}
	return out
}

// Stopped reports whether Disconnect was called.
func (c *Client) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
