package broker

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/CedrosPay/manta/internal/dispatch"
	mantaerrors "github.com/CedrosPay/manta/internal/errors"
)

// MemoryBroker is an in-process stand-in for the MQTT broker process,
// grounded on original_source/manta/testing/broker.py's loopback broker
// used by the reference implementation's own test suite. It lets the PP,
// POS, and Wallet exchange real topic traffic inside a single test binary,
// without a network round trip.
type MemoryBroker struct {
	mu       sync.Mutex
	clients  map[*MemoryClient]struct{}
	retained map[string][]byte
}

// NewMemoryBroker creates an empty broker with no connected clients.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		clients:  make(map[*MemoryClient]struct{}),
		retained: make(map[string][]byte),
	}
}

// NewClient builds a Client bound to this broker. id is cosmetic; it has no
// effect on routing (every client sees every publish matching its
// subscriptions, exactly like real MQTT clients sharing a broker).
func (b *MemoryBroker) NewClient(id string, opts Options) *MemoryClient {
	return &MemoryClient{
		id:       id,
		broker:   b,
		opts:     opts,
		patterns: make(map[string]*regexp.Regexp),
	}
}

func (b *MemoryBroker) register(c *MemoryClient) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *MemoryBroker) unregister(c *MemoryClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// publish fans a message out to every currently-matching client. The
// candidate list is captured under lock and then released before any
// handler runs, so a handler that turns around and publishes/subscribes
// (the PP's payment_requests handler does exactly this) cannot deadlock
// against the broker's own mutex.
func (b *MemoryBroker) publish(topic string, payload []byte, qos byte, retained bool) {
	b.mu.Lock()
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = payload
		}
	}
	var targets []*MemoryClient
	for c := range b.clients {
		if c.matches(topic) {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.deliver(Message{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	}
}

func (b *MemoryBroker) retainedMatching(re *regexp.Regexp) map[string][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte)
	for topic, payload := range b.retained {
		if re.MatchString(topic) {
			out[topic] = payload
		}
	}
	return out
}

// MemoryClient is one component's connection to a MemoryBroker.
type MemoryClient struct {
	id        string
	broker    *MemoryBroker
	opts      Options
	connected atomic.Bool

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func (c *MemoryClient) matches(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, re := range c.patterns {
		if re.MatchString(topic) {
			return true
		}
	}
	return false
}

func (c *MemoryClient) deliver(msg Message) {
	if !c.connected.Load() {
		return
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

// Connect registers the client with its broker and fires OnConnect, mirroring
// a real broker's CONNACK. Idempotent: connecting twice just re-registers.
func (c *MemoryClient) Connect(ctx context.Context) error {
	c.broker.register(c)
	c.connected.Store(true)
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
	return nil
}

// Subscribe registers topic and immediately delivers any retained message
// whose topic matches, replicating real MQTT retained-message semantics.
func (c *MemoryClient) Subscribe(topic string, qos byte) error {
	re := regexp.MustCompile(dispatch.PatternToRegex(topic))

	c.mu.Lock()
	c.patterns[topic] = re
	c.mu.Unlock()

	for t, payload := range c.broker.retainedMatching(re) {
		c.deliver(Message{Topic: t, Payload: payload, QoS: qos, Retained: true})
	}
	return nil
}

// Unsubscribe drops one or more topic subscriptions.
func (c *MemoryClient) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.patterns, t)
	}
	return nil
}

// Publish fans payload out to every connected client whose subscriptions
// match topic.
func (c *MemoryClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.connected.Load() {
		return mantaerrors.New(mantaerrors.ErrCodeBrokerDisconnected, "broker: publish on disconnected client")
	}
	c.broker.publish(topic, payload, qos, retained)
	return nil
}

// Disconnect marks the client offline and unregisters it from the broker.
// Safe to call more than once.
func (c *MemoryClient) Disconnect() {
	c.connected.Store(false)
	c.broker.unregister(c)
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(nil)
	}
}

// IsConnected reports the current connection state.
func (c *MemoryClient) IsConnected() bool {
	return c.connected.Load()
}
