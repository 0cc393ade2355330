// Package wallet implements the customer-side Wallet client (spec.md §4.5):
// it redeems a manta:// URL, fetches the PP's certificate and a signed
// PaymentRequest envelope, and reports an on-chain transaction back to the
// PP. The client does not verify the envelope's signature itself.
//
// Grounded on original_source/manta/wallet.py's Wallet class. Per the
// REDESIGN FLAGS, the asyncio Future/Queue plus call_soon_threadsafe
// machinery becomes channels the broker callback sends on and the exported
// methods receive from with select/time.After/ctx.Done.
package wallet

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/manta/internal/broker"
	"github.com/CedrosPay/manta/internal/config"
	mantacrypto "github.com/CedrosPay/manta/internal/crypto"
	mantaerrors "github.com/CedrosPay/manta/internal/errors"
	"github.com/CedrosPay/manta/internal/metrics"
	"github.com/CedrosPay/manta/pkg/manta/messages"
)

// ErrTimeout is returned when a payment-flow suspension point (payment
// request, ack) exceeds the configured 3-second await timeout.
// GetCertificate is exempt: spec.md §4.5 gives it no timeout.
var ErrTimeout = mantaerrors.New(mantaerrors.ErrCodeTimeout, "wallet: timed out awaiting response")

// Client is a single-session Wallet client bound to one manta:// URL.
type Client struct {
	host         string
	port         int
	sessionID    string
	awaitTimeout time.Duration
	metrics      *metrics.Metrics
	log          zerolog.Logger

	brk           broker.Client
	brokerFactory broker.Factory

	dialOnce    sync.Once
	dialErr     error
	connected   chan struct{}
	certSubOnce sync.Once
	certSubErr  error

	mu            sync.Mutex
	subscriptions []string

	certMu       sync.Mutex
	certPEM      string
	certOnce     sync.Once
	certReceived chan struct{}

	envelopes chan messages.PaymentRequestEnvelope
	acks      chan messages.AckMessage
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

// Factory parses a manta:// URL and builds a Wallet client bound to the
// broker/session it identifies, matching spec.md §4.5's
// "factory(url) parses manta://host[:port]/sid" contract.
func Factory(cfg *config.Config, url string, opts ...Option) (*Client, error) {
	host, port, sessionID, err := messages.ParseURL(url)
	if err != nil {
		return nil, err
	}

	c := &Client{
		host:         host,
		port:         port,
		sessionID:    sessionID,
		awaitTimeout: cfg.Broker.AwaitTimeout.Duration,
		log:          log.Logger,
		connected:    make(chan struct{}),
		certReceived: make(chan struct{}),
		envelopes:    make(chan messages.PaymentRequestEnvelope, 1),
		acks:         make(chan messages.AckMessage, 8),
		brokerFactory: broker.Factory(func(o broker.Options) broker.Client {
			return broker.NewPahoClient(o)
		}),
	}
	for _, opt := range opts {
		opt(c)
	}

	brokerOpts := broker.Options{
		Host:           host,
		Port:           port,
		ClientID:       fmt.Sprintf("%s-wallet-%s", cfg.Broker.ClientIDPrefix, sessionID),
		ConnectTimeout: cfg.Broker.ConnectTimeout.Duration,
		KeepAlive:      cfg.Broker.KeepAlive.Duration,
		OnConnect:      c.onConnect,
		OnMessage:      c.onMessage,
	}
	c.brk = c.brokerFactory(brokerOpts)
	return c, nil
}

func (c *Client) onConnect() {
	select {
	case <-c.connected:
	default:
		close(c.connected)
	}
}

func (c *Client) onMessage(msg broker.Message) {
	switch {
	case msg.Topic == "certificate":
		c.certMu.Lock()
		c.certPEM = string(msg.Payload)
		c.certMu.Unlock()
		c.certOnce.Do(func() { close(c.certReceived) })

	case strings.HasPrefix(msg.Topic, "payment_requests/"):
		var env messages.PaymentRequestEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			c.log.Error().Err(err).Msg("wallet: decode envelope failed")
			return
		}
		select {
		case c.envelopes <- env:
		default:
			c.log.Warn().Msg("wallet: envelope channel full, dropping")
		}

	case strings.HasPrefix(msg.Topic, "acks/"):
		var ack messages.AckMessage
		if err := json.Unmarshal(msg.Payload, &ack); err != nil {
			c.log.Error().Err(err).Msg("wallet: decode ack failed")
			return
		}
		select {
		case c.acks <- ack:
		default:
			c.log.Warn().Msg("wallet: ack channel full, dropping")
		}
	}
}

// Connect dials the broker and subscribes to the retained certificate
// topic. It is idempotent-once: the first call performs both steps; every
// later call just waits for the (already-fired) connected signal.
func (c *Client) Connect(ctx context.Context) error {
	c.dialOnce.Do(func() {
		c.dialErr = c.brk.Connect(ctx)
	})
	if c.dialErr != nil {
		return c.dialErr
	}

	select {
	case <-c.connected:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.certSubOnce.Do(func() {
		c.certSubErr = c.brk.Subscribe("certificate", broker.QoS0)
	})
	return c.certSubErr
}

// GetCertificate awaits the retained certificate publication. Unlike the
// payment-flow operations below, this has no timeout (spec.md §4.5): a
// Wallet may be started well before the PP has published anything.
func (c *Client) GetCertificate(ctx context.Context) (*x509.Certificate, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	select {
	case <-c.certReceived:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.certMu.Lock()
	pemStr := c.certPEM
	c.certMu.Unlock()
	return mantacrypto.ParseCertificatePEM([]byte(pemStr))
}

// GetPaymentRequest subscribes to payment_requests/{sid}, asks the PP for a
// quote in the given crypto ("all" for any), and awaits the signed envelope
// with a 3-second timeout.
func (c *Client) GetPaymentRequest(ctx context.Context, crypto string) (messages.PaymentRequestEnvelope, error) {
	if crypto == "" {
		crypto = "all"
	}
	if err := c.Connect(ctx); err != nil {
		return messages.PaymentRequestEnvelope{}, err
	}
	if err := c.subscribe(fmt.Sprintf("payment_requests/%s", c.sessionID)); err != nil {
		return messages.PaymentRequestEnvelope{}, err
	}
	if err := c.brk.Publish(fmt.Sprintf("payment_requests/%s/%s", c.sessionID, crypto), broker.QoS0, false, nil); err != nil {
		return messages.PaymentRequestEnvelope{}, err
	}

	select {
	case env := <-c.envelopes:
		return env, nil
	case <-ctx.Done():
		return messages.PaymentRequestEnvelope{}, ctx.Err()
	case <-time.After(c.awaitTimeout):
		if c.metrics != nil {
			c.metrics.AwaitTimeoutsTotal.WithLabelValues("payment_request").Inc()
		}
		return messages.PaymentRequestEnvelope{}, ErrTimeout
	}
}

// SendPayment subscribes to acks/{sid} and publishes a PaymentMessage
// reporting the on-chain transaction, at QoS1 per spec.md §6.
func (c *Client) SendPayment(ctx context.Context, transactionHash, cryptoCurrency string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.subscribe(fmt.Sprintf("acks/%s", c.sessionID)); err != nil {
		return err
	}

	pm := messages.PaymentMessage{
		CryptoCurrency:  cryptoCurrency,
		TransactionHash: transactionHash,
		Version:         messages.WireVersion,
	}
	body, err := json.Marshal(pm)
	if err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeDeserializeFailure, "encode payment message", err)
	}
	return c.brk.Publish(fmt.Sprintf("payments/%s", c.sessionID), broker.QoS1, false, body)
}

// NextAck awaits the next ack published for this session, with the same
// 3-second timeout as the other payment-flow suspension points. Callers
// typically use this after SendPayment to observe the PENDING/PAID
// progression.
func (c *Client) NextAck(ctx context.Context) (messages.AckMessage, error) {
	select {
	case ack := <-c.acks:
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

// WatchAcks subscribes to acks/{sid} without publishing a payment, letting a
// caller observe ack progress (e.g. a merchant-initiated cancellation)
// before committing to SendPayment.
func (c *Client) WatchAcks(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.subscribe(fmt.Sprintf("acks/%s", c.sessionID))
}

func (c *Client) subscribe(topic string) error {
	c.mu.Lock()
	for _, t := range c.subscriptions {
		if t == topic {
			c.mu.Unlock()
			return nil
		}
	}
	c.subscriptions = append(c.subscriptions, topic)
	c.mu.Unlock()
	return c.brk.Subscribe(topic, broker.QoS0)
}

// Close disconnects the broker client. Safe to call idempotently.
func (c *Client) Close() error {
	c.brk.Disconnect()
	return nil
}
