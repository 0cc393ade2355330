// Package broker defines the transport seam every Manta component sits on
// top of: connect, subscribe, publish, disconnect. The PP, POS, and Wallet
// never talk to paho.mqtt.golang directly — they depend on the Client
// interface so that tests can swap in the in-memory fake (MemoryBroker)
// without a running MQTT broker process.
package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	mantaerrors "github.com/CedrosPay/manta/internal/errors"
)

// QoS levels used on the wire. QoS0 is the default for every topic except
// the Wallet's payments/{sid} publish, which uses QoS1 (at-least-once).
const (
	QoS0 byte = 0
	QoS1 byte = 1
)

// Message is one inbound publish delivered to a client's OnMessage callback.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
	QoS      byte
}

// Handler receives every message matching a client's active subscriptions.
type Handler func(msg Message)

// Client is the minimal broker surface the PP, POS, and Wallet depend on.
// Connect/Subscribe/Publish/Unsubscribe block until the broker has
// acknowledged the operation. Only Connect is bounded by
// Options.ConnectTimeout; the other operations wait without a time limit.
// No operation is retried by the client.
type Client interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topics ...string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
	IsConnected() bool
}

// Options configures a broker client, real or fake. OnConnect fires on
// every (re)connect — the PP's re-subscribe sequence (§4.4) and the
// POS/Wallet's "connected" signal both hang off this callback. OnMessage
// fires on the broker library's own goroutine/thread; per spec.md §5
// nothing downstream of it may assume it runs on any particular goroutine.
type Options struct {
	Host           string
	Port           int
	ClientID       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	OnConnect      func()
	OnMessage      Handler
	OnDisconnect   func(error)
}

// Factory builds a Client from Options. Production code uses NewPahoClient;
// tests inject a factory that hands out clients bound to a shared
// MemoryBroker so multiple components can exchange messages in-process.
type Factory func(Options) Client

// PahoClient adapts github.com/eclipse/paho.mqtt.golang to Client.
type PahoClient struct {
	opts Options
	cli  mqtt.Client
}

// NewPahoClient builds a PahoClient wired to opts' callbacks.
func NewPahoClient(opts Options) *PahoClient {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port)).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.ConnectTimeout).
		SetKeepAlive(opts.KeepAlive).
		SetAutoReconnect(true).
		SetCleanSession(true)

	mqttOpts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		if opts.OnMessage != nil {
			opts.OnMessage(Message{
				Topic:    msg.Topic(),
				Payload:  msg.Payload(),
				Retained: msg.Retained(),
				QoS:      msg.Qos(),
			})
		}
	})
	mqttOpts.SetOnConnectHandler(func(mqtt.Client) {
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
	})
	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(err)
		}
	})

	return &PahoClient{opts: opts, cli: mqtt.NewClient(mqttOpts)}
}

// Connect dials the broker and blocks until the connection is established
// or opts.ConnectTimeout elapses.
func (c *PahoClient) Connect(ctx context.Context) error {
	token := c.cli.Connect()
	if !token.WaitTimeout(c.opts.ConnectTimeout) {
		return mantaerrors.New(mantaerrors.ErrCodeTimeout, "broker: connect timed out")
	}
	if err := token.Error(); err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeBrokerDisconnected, "broker: connect failed", err)
	}
	return nil
}

// Subscribe registers topic with the broker. Inbound messages route through
// the single OnMessage callback supplied at construction rather than a
// per-subscription handler, matching the dispatcher's single entry point.
func (c *PahoClient) Subscribe(topic string, qos byte) error {
	token := c.cli.Subscribe(topic, qos, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeBrokerDisconnected, "broker: subscribe failed", err)
	}
	return nil
}

// Unsubscribe drops one or more topic subscriptions.
func (c *PahoClient) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	token := c.cli.Unsubscribe(topics...)
	token.Wait()
	if err := token.Error(); err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeBrokerDisconnected, "broker: unsubscribe failed", err)
	}
	return nil
}

// Publish sends payload on topic at the given QoS, optionally retained.
func (c *PahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.cli.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeBrokerPublish, "broker: publish failed", err)
	}
	return nil
}

// Disconnect closes the connection and stops the client's network loop.
// Safe to call idempotently, matching spec.md §5's close() contract.
func (c *PahoClient) Disconnect() {
	if c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}

// IsConnected reports the current connection state.
func (c *PahoClient) IsConnected() bool {
	return c.cli.IsConnected()
}
