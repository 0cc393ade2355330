// Package store implements the merchant Point-of-Sale client (spec.md
// §4.5): a single-session component that mints a session id, asks the PP to
// start a negotiation, and awaits the initial ack.
//
// Grounded on original_source/manta/store.py's Store class. Per the
// REDESIGN FLAGS ("Callback-mutated shared state -> typed channels"), the
// asyncio-queue-plus-call_soon_threadsafe machinery is replaced by a
// buffered Go channel the broker callback sends on and the exported method
// receives from with select/time.After, matching spec.md §5's "await with
// timeout" suspension points.
package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/manta/internal/broker"
	"github.com/CedrosPay/manta/internal/config"
	mantaerrors "github.com/CedrosPay/manta/internal/errors"
	"github.com/CedrosPay/manta/internal/metrics"
	"github.com/CedrosPay/manta/pkg/manta/messages"
)

// ErrTimeout is returned when a suspension point exceeds its configured
// timeout, distinguishable from ErrInvalidAck per spec.md §7's table.
var ErrTimeout = mantaerrors.New(mantaerrors.ErrCodeTimeout, "store: timed out awaiting ack")

// ErrInvalidAck is returned when the PP's initial ack for a freshly minted
// session is not NEW: a protocol violation from the POS's point of view.
var ErrInvalidAck = mantaerrors.New(mantaerrors.ErrCodeInvalidAck, "store: initial ack was not NEW")

// Client is a single-session POS client.
type Client struct {
	deviceID     string
	awaitTimeout time.Duration
	metrics      *metrics.Metrics
	log          zerolog.Logger

	brk           broker.Client
	brokerFactory broker.Factory

	connectOnce sync.Once
	connected   chan struct{}

	mu            sync.Mutex
	sessionID     string
	subscriptions []string
	acks          chan messages.AckMessage
}

// Option configures Client construction.
type Option func(*Client)

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithLogger overrides the default zerolog logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithBrokerFactory overrides how the broker client is constructed, used by
// tests to bind this client to a shared broker.MemoryBroker.
func WithBrokerFactory(f broker.Factory) Option { return func(c *Client) { c.brokerFactory = f } }

// NewClient builds a POS client for deviceID (the application id the PP
// will route orders to).
func NewClient(cfg *config.Config, deviceID string, opts ...Option) *Client {
	c := &Client{
		deviceID:     deviceID,
		awaitTimeout: cfg.Broker.AwaitTimeout.Duration,
		log:          log.Logger,
		connected:    make(chan struct{}),
		acks:         make(chan messages.AckMessage, 8),
		brokerFactory: broker.Factory(func(o broker.Options) broker.Client {
			return broker.NewPahoClient(o)
		}),
	}
	for _, opt := range opts {
		opt(c)
	}

	brokerOpts := broker.Options{
		Host:           cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		ClientID:       fmt.Sprintf("%s-store-%s", cfg.Broker.ClientIDPrefix, deviceID),
		ConnectTimeout: cfg.Broker.ConnectTimeout.Duration,
		KeepAlive:      cfg.Broker.KeepAlive.Duration,
		OnConnect:      c.onConnect,
		OnMessage:      c.onMessage,
	}
	c.brk = c.brokerFactory(brokerOpts)
	return c
}

func (c *Client) onConnect() {
	c.connectOnce.Do(func() { close(c.connected) })
}

func (c *Client) onMessage(msg broker.Message) {
	if !strings.HasPrefix(msg.Topic, "acks/") {
		return
	}
	var ack messages.AckMessage
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		c.log.Error().Err(err).Msg("store: decode ack failed")
		return
	}
	select {
	case c.acks <- ack:
	default:
		c.log.Warn().Str("session_id", c.currentSessionID()).Msg("store: ack queue full, dropping incoming ack")
	}
}

func (c *Client) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ensureConnected dials the broker on first use and blocks until the
// connect callback fires or awaitTimeout elapses.
func (c *Client) ensureConnected(ctx context.Context) error {
	if !c.brk.IsConnected() {
		if err := c.brk.Connect(ctx); err != nil {
			return err
		}
	}
	select {
	case <-c.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.awaitTimeout):
		return ErrTimeout
	}
}

func (c *Client) subscribe(topic string) error {
	if err := c.brk.Subscribe(topic, broker.QoS0); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, topic)
	c.mu.Unlock()
	return nil
}

// MerchantOrderRequest mints a new session, publishes the order, and awaits
// the PP's first ack. It fails if the ack does not arrive within the
// broker's configured await timeout, or if the first ack's status is not
// NEW (spec.md §4.5, §7).
func (c *Client) MerchantOrderRequest(ctx context.Context, amount decimal.Decimal, fiat, crypto string) (messages.AckMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return messages.AckMessage{}, err
	}

	c.Clean()

	sessionID, err := generateSessionID()
	if err != nil {
		return messages.AckMessage{}, err
	}
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	if err := c.subscribe(fmt.Sprintf("acks/%s", sessionID)); err != nil {
		return messages.AckMessage{}, err
	}

	order := messages.MerchantOrderRequest{
		Amount:         messages.NewDecimal(amount),
		SessionID:      sessionID,
		FiatCurrency:   fiat,
		CryptoCurrency: crypto,
		Version:        messages.WireVersion,
	}
	body, err := json.Marshal(order)
	if err != nil {
		return messages.AckMessage{}, mantaerrors.Wrap(mantaerrors.ErrCodeDeserializeFailure, "encode merchant order request", err)
	}

	if err := c.brk.Publish(fmt.Sprintf("merchant_order_request/%s", c.deviceID), broker.QoS0, false, body); err != nil {
		return messages.AckMessage{}, err
	}

	select {
	case ack := <-c.acks:
		if ack.Status != messages.StatusNew {
			return ack, ErrInvalidAck
		}
		return ack, nil
	case <-ctx.Done():
		return messages.AckMessage{}, ctx.Err()
	case <-time.After(c.awaitTimeout):
		if c.metrics != nil {
			c.metrics.AwaitTimeoutsTotal.WithLabelValues("ack").Inc()
		}
		return messages.AckMessage{}, ErrTimeout
	}
}

// Clean clears stale subscriptions and drains the ack queue, called before
// starting a new session so a previous session's traffic cannot leak into
// the next one's await.
func (c *Client) Clean() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	c.mu.Unlock()

	if len(subs) > 0 {
		c.brk.Unsubscribe(subs...)
	}

	for {
		select {
		case <-c.acks:
		default:
			return
		}
	}
}

// Close disconnects the broker client. Safe to call idempotently.
func (c *Client) Close() error {
	c.brk.Disconnect()
	return nil
}

// generateSessionID mints a 128-bit random, URL-safe base64 session id,
// matching original_source/manta/store.py's generate_session_id (a
// uuid4's raw bytes, base64-encoded) without pulling in a UUID library: a
// 16-byte crypto/rand read is the literal translation of "16 random bytes,
// URL-safe base64" and needs no additional indirection.
func generateSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", mantaerrors.Wrap(mantaerrors.ErrCodeInternalError, "generate session id", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
