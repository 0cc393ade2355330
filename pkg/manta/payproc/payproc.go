// Package payproc implements the Payment Processor state machine: the
// authoritative signer and session owner of the Manta protocol (spec.md
// §4.4). It drives every session through NEW -> PENDING -> (CONFIRMING) ->
// PAID or INVALID, publishing an ack after every transition.
//
// Grounded on original_source/manta/payproclib.py's PayProc class,
// restructured around the teacher's dependency-injected App/Option
// construction (pkg/cedros/app.go) and internal/lifecycle for broker/store
// cleanup, with internal/dispatch replacing the source's reflection-based
// method binding per the REDESIGN FLAGS.
package payproc

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/manta/internal/broker"
	"github.com/CedrosPay/manta/internal/circuitbreaker"
	"github.com/CedrosPay/manta/internal/config"
	mantacrypto "github.com/CedrosPay/manta/internal/crypto"
	"github.com/CedrosPay/manta/internal/dispatch"
	mantaerrors "github.com/CedrosPay/manta/internal/errors"
	"github.com/CedrosPay/manta/internal/logger"
	"github.com/CedrosPay/manta/internal/metrics"
	"github.com/CedrosPay/manta/pkg/manta/messages"
	"github.com/CedrosPay/manta/pkg/manta/txstore"
)

// GetMerchantFunc resolves the merchant identity behind an application id.
type GetMerchantFunc func(appID string) (messages.Merchant, error)

// GetDestinationsFunc resolves the accepted payment destinations for an order.
type GetDestinationsFunc func(appID string, order messages.MerchantOrderRequest) ([]messages.Destination, error)

// GetSupportedCryptosFunc resolves the set of cryptos an order's destinations accept.
type GetSupportedCryptosFunc func(appID string, order messages.MerchantOrderRequest) (messages.CryptoSet, error)

// Processor is the PP: one broker connection, one signing key, one
// transaction store, driving every session's lifecycle.
type Processor struct {
	host string
	port int

	key     *rsa.PrivateKey
	certPEM string

	store      txstore.Store
	dispatcher *dispatch.Dispatcher
	brk        broker.Client
	nextTXID   atomic.Int64
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
	log        zerolog.Logger

	brokerFactory broker.Factory

	getMerchant         GetMerchantFunc
	getDestinations     GetDestinationsFunc
	getSupportedCryptos GetSupportedCryptosFunc

	onProcessedOrder        func(txid int64, order messages.MerchantOrderRequest, ack messages.AckMessage)
	onProcessedGetPayment   func(txid int64, crypto string, pr messages.PaymentRequest)
	onProcessedPayment      func(txid int64, pm messages.PaymentMessage, ack messages.AckMessage)
	onProcessedConfirmation func(txid int64, ack messages.AckMessage)
}

// Option configures Processor construction.
type Option func(*Processor)

// WithStore overrides the default in-memory transaction store.
func WithStore(s txstore.Store) Option { return func(p *Processor) { p.store = s } }

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithLogger overrides the default zerolog logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Processor) { p.log = l } }

// WithBreaker overrides the default circuit breaker manager.
func WithBreaker(b *circuitbreaker.Manager) Option { return func(p *Processor) { p.breaker = b } }

// WithBrokerFactory overrides how the broker client is constructed. Tests
// inject a factory bound to a shared broker.MemoryBroker; production uses
// the default, broker.NewPahoClient.
func WithBrokerFactory(f broker.Factory) Option {
	return func(p *Processor) { p.brokerFactory = f }
}

// WithGetMerchant sets the merchant-resolution callback (required).
func WithGetMerchant(fn GetMerchantFunc) Option { return func(p *Processor) { p.getMerchant = fn } }

// WithGetDestinations sets the destination-resolution callback (required).
func WithGetDestinations(fn GetDestinationsFunc) Option {
	return func(p *Processor) { p.getDestinations = fn }
}

// WithGetSupportedCryptos sets the supported-cryptos callback (required).
func WithGetSupportedCryptos(fn GetSupportedCryptosFunc) Option {
	return func(p *Processor) { p.getSupportedCryptos = fn }
}

// WithOnProcessedOrder fires after a merchant_order_request is handled.
func WithOnProcessedOrder(fn func(txid int64, order messages.MerchantOrderRequest, ack messages.AckMessage)) Option {
	return func(p *Processor) { p.onProcessedOrder = fn }
}

// WithOnProcessedGetPayment fires after a payment_requests/{sid}/{crypto} is handled.
func WithOnProcessedGetPayment(fn func(txid int64, crypto string, pr messages.PaymentRequest)) Option {
	return func(p *Processor) { p.onProcessedGetPayment = fn }
}

// WithOnProcessedPayment fires after a payments/{sid} message is accepted.
func WithOnProcessedPayment(fn func(txid int64, pm messages.PaymentMessage, ack messages.AckMessage)) Option {
	return func(p *Processor) { p.onProcessedPayment = fn }
}

// WithOnProcessedConfirmation fires after Confirm(sid) publishes a PAID ack.
func WithOnProcessedConfirmation(fn func(txid int64, ack messages.AckMessage)) Option {
	return func(p *Processor) { p.onProcessedConfirmation = fn }
}

// New constructs a Processor from cfg: loads the signing key, optional
// certificate, builds the dispatch routing table exactly per spec.md §4.4's
// handler table, and wires a broker client (real, unless WithBrokerFactory
// injected one for testing).
func New(cfg *config.Config, opts ...Option) (*Processor, error) {
	key, err := mantacrypto.LoadPrivateKey(cfg.PayProc.KeyFile)
	if err != nil {
		return nil, err
	}

	certPEM := ""
	if cfg.PayProc.CertFile != "" {
		raw, err := os.ReadFile(cfg.PayProc.CertFile)
		if err != nil {
			return nil, mantaerrors.Wrap(mantaerrors.ErrCodeCertificateMissing, "read certificate file", err)
		}
		certPEM = string(raw)
	}

	p := &Processor{
		host:          cfg.Broker.Host,
		port:          cfg.Broker.Port,
		key:           key,
		certPEM:       certPEM,
		store:         txstore.NewMemoryStore(),
		dispatcher:    dispatch.New(),
		breaker:       circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker),
		log:           log.Logger,
		brokerFactory: broker.Factory(func(o broker.Options) broker.Client { return broker.NewPahoClient(o) }),
	}
	p.nextTXID.Store(cfg.PayProc.StartingTXID)

	for _, opt := range opts {
		opt(p)
	}

	if p.getMerchant == nil || p.getDestinations == nil || p.getSupportedCryptos == nil {
		return nil, mantaerrors.New(mantaerrors.ErrCodeConfigError,
			"payproc: GetMerchant, GetDestinations, and GetSupportedCryptos callbacks are required")
	}

	p.registerRoutes()

	brokerOpts := broker.Options{
		Host:           cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		ClientID:       fmt.Sprintf("%s-payproc", cfg.Broker.ClientIDPrefix),
		ConnectTimeout: cfg.Broker.ConnectTimeout.Duration,
		KeepAlive:      cfg.Broker.KeepAlive.Duration,
		OnConnect:      p.onConnect,
		OnMessage:      p.onMessage,
		OnDisconnect: func(err error) {
			p.log.Warn().Err(err).Msg("payproc: broker disconnected")
		},
	}
	p.brk = p.brokerFactory(brokerOpts)

	return p, nil
}

// Run connects the broker (through the circuit breaker) and publishes the
// certificate, then blocks until ctx is cancelled. Reconnection itself is
// the broker client's responsibility (spec.md §5); on every successful
// (re)connect, onConnect re-runs the subscribe sequence so in-flight
// sessions survive a reconnect.
func (p *Processor) Run(ctx context.Context) error {
	if _, err := p.breaker.Execute(circuitbreaker.ServiceBroker, func() (interface{}, error) {
		return nil, p.brk.Connect(ctx)
	}); err != nil {
		return err
	}

	<-ctx.Done()
	p.brk.Disconnect()
	return ctx.Err()
}

// Close disconnects the broker and releases the transaction store. Safe to
// call after Run has already returned.
func (p *Processor) Close() error {
	p.brk.Disconnect()
	return p.store.Close()
}

// registerRoutes builds the static dispatch table exactly matching
// spec.md §4.4's handler table, replacing the source's reflection-based
// method-annotation binding.
func (p *Processor) registerRoutes() {
	p.dispatcher.MustRegister("merchant_order_request/+", p.handleMerchantOrderRequest)
	p.dispatcher.MustRegister("merchant_order_cancel/+", p.handleMerchantOrderCancel)
	p.dispatcher.MustRegister("payment_requests/+/+", p.handleGetPaymentRequest)
	p.dispatcher.MustRegister("payments/+", p.handlePayments)
}

// onConnect implements the connect sequence of spec.md §4.4: subscribe to
// the order/cancel topics, re-subscribe every live session's payment
// topics, and publish the certificate PEM retained.
func (p *Processor) onConnect() {
	if err := p.brk.Subscribe("merchant_order_request/+", broker.QoS0); err != nil {
		p.log.Error().Err(err).Msg("payproc: subscribe merchant_order_request failed")
	}
	if err := p.brk.Subscribe("merchant_order_cancel/+", broker.QoS0); err != nil {
		p.log.Error().Err(err).Msg("payproc: subscribe merchant_order_cancel failed")
	}

	for _, entry := range p.store.All() {
		sid := entry.SessionID
		if err := p.brk.Subscribe(fmt.Sprintf("payment_requests/%s/+", sid), broker.QoS0); err != nil {
			p.log.Error().Err(err).Str("session_id", sid).Msg("payproc: re-subscribe payment_requests failed")
		}
		if err := p.brk.Subscribe(fmt.Sprintf("payments/%s", sid), broker.QoS0); err != nil {
			p.log.Error().Err(err).Str("session_id", sid).Msg("payproc: re-subscribe payments failed")
		}
	}

	if err := p.brk.Publish("certificate", broker.QoS0, true, []byte(p.certPEM)); err != nil {
		p.log.Error().Err(err).Msg("payproc: publish certificate failed")
	}
}

// onMessage is the broker's single inbound entry point; it hands every
// message to the dispatcher, which looks up matching routes and invokes
// them. Dispatch errors are logged and otherwise swallowed: one broken
// handler must not stop message processing for the rest of the routing
// table or bring down the broker's network goroutine (spec.md §4.4 Failure
// semantics, §7).
func (p *Processor) onMessage(msg broker.Message) {
	p.dispatcher.Dispatch(context.Background(), msg.Topic, msg.Payload, func(pattern string, err error) {
		if p.metrics != nil {
			p.metrics.DispatchErrorsTotal.WithLabelValues(pattern).Inc()
		}
		p.log.Error().Err(err).Str("topic", msg.Topic).Str("pattern", pattern).Msg("payproc: dispatch handler error")
	})
}

// handleMerchantOrderRequest implements spec.md §4.4's
// merchant_order_request/{app_id} handler: it branches on Manta vs legacy
// mode, publishes the initial NEW ack, and creates the session's storage
// entry.
func (p *Processor) handleMerchantOrderRequest(ctx context.Context, args []string, payload []byte) error {
	appID := args[0]

	var order messages.MerchantOrderRequest
	if err := decodeJSON(payload, &order); err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeDeserializeFailure, "decode merchant order request", err)
	}

	txid := p.nextTXID.Load()

	var ack messages.AckMessage
	if order.LegacyMode() {
		ack = p.buildLegacyAck(txid, order)
	} else {
		ack = p.buildMantaAck(txid, order)
	}

	if err := p.publishAck(order.SessionID, ack); err != nil {
		return err
	}

	if !order.LegacyMode() {
		if err := p.brk.Subscribe(fmt.Sprintf("payment_requests/%s/+", order.SessionID), broker.QoS0); err != nil {
			return err
		}
		if err := p.brk.Subscribe(fmt.Sprintf("payments/%s", order.SessionID), broker.QoS0); err != nil {
			return err
		}
	}

	if _, err := p.store.Create(txid, order.SessionID, appID, order, ack); err != nil {
		return err
	}
	p.nextTXID.Add(1)

	if p.metrics != nil {
		mode := "manta"
		if order.LegacyMode() {
			mode = "legacy"
		}
		p.metrics.SessionsCreatedTotal.WithLabelValues(mode).Inc()
		p.metrics.SessionsActive.Set(float64(p.store.Len()))
	}

	if p.onProcessedOrder != nil {
		p.onProcessedOrder(txid, order, ack)
	}
	return nil
}

func (p *Processor) buildMantaAck(txid int64, order messages.MerchantOrderRequest) messages.AckMessage {
	return messages.AckMessage{
		TXID:   fmt.Sprintf("%d", txid),
		Status: messages.StatusNew,
		URL:    messages.MintURL(p.host, p.port, order.SessionID),
	}
}

func (p *Processor) buildLegacyAck(txid int64, order messages.MerchantOrderRequest) messages.AckMessage {
	url := ""
	destinations, err := p.getDestinations(order.SessionID, order)
	if err == nil && len(destinations) > 0 {
		url = legacyURI(destinations[0])
	}
	return messages.AckMessage{
		TXID:   fmt.Sprintf("%d", txid),
		Status: messages.StatusNew,
		URL:    url,
	}
}

// legacyURI builds the currency-specific URI for legacy single-crypto mode
// (spec.md §4.4): only "btc" has a defined scheme, matching
// original_source/manta/payproclib.py's generate_crypto_legacy_url, which
// returns nothing for any other currency.
func legacyURI(d messages.Destination) string {
	if strings.EqualFold(d.CryptoCurrency, "btc") {
		return fmt.Sprintf("bitcoin:%s?amount=%s", d.DestinationAddress, d.Amount.String())
	}
	return ""
}

// handleMerchantOrderCancel implements merchant_order_cancel/{sid}: it
// invalidates the session with the fixed memo spec.md §4.4 specifies.
func (p *Processor) handleMerchantOrderCancel(ctx context.Context, args []string, payload []byte) error {
	sessionID := args[0]
	return p.invalidate(sessionID, "Canceled by Merchant")
}

// handleGetPaymentRequest implements payment_requests/{sid}/{crypto}: it
// assembles, signs, and publishes a PaymentRequest envelope.
func (p *Processor) handleGetPaymentRequest(ctx context.Context, args []string, payload []byte) error {
	sessionID, crypto := args[0], args[1]
	ctx = logger.WithSession(ctx, p.log, sessionID, "payment_requests")
	logger.FromContext(ctx).Debug().Str("crypto", crypto).Msg("payproc: assembling payment request")

	state, err := p.store.Get(sessionID)
	if err != nil {
		return err
	}

	if err := p.store.SetWalletRequest(sessionID, crypto); err != nil {
		return err
	}

	order := state.Order
	if crypto == "all" {
		order.CryptoCurrency = ""
	} else {
		order.CryptoCurrency = crypto
	}

	merchant, err := p.getMerchant(state.AppID)
	if err != nil {
		return err
	}
	destinations, err := p.getDestinations(state.AppID, order)
	if err != nil {
		return err
	}
	supported, err := p.getSupportedCryptos(state.AppID, order)
	if err != nil {
		return err
	}

	pr := messages.PaymentRequest{
		Merchant:         merchant,
		Amount:           order.Amount,
		FiatCurrency:     order.FiatCurrency,
		Destinations:     destinations,
		SupportedCryptos: supported,
		Version:          messages.WireVersion,
	}

	body, err := encodeJSON(pr)
	if err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeDeserializeFailure, "encode payment request", err)
	}

	sig, err := mantacrypto.Sign(p.key, body)
	if err != nil {
		return err
	}
	envelope := messages.NewEnvelope(body, sig)

	if err := p.store.SetPaymentRequest(sessionID, pr); err != nil {
		return err
	}

	envelopeBody, err := encodeJSON(envelope)
	if err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeDeserializeFailure, "encode envelope", err)
	}
	if err := p.brk.Publish(fmt.Sprintf("payment_requests/%s", sessionID), broker.QoS0, false, envelopeBody); err != nil {
		return err
	}

	if p.onProcessedGetPayment != nil {
		p.onProcessedGetPayment(state.TXID, crypto, pr)
	}
	return nil
}

// handlePayments implements payments/{sid}: it validates the reported
// crypto against the session's supported set (case-insensitively) and, if
// accepted, evolves the ack to PENDING.
func (p *Processor) handlePayments(ctx context.Context, args []string, payload []byte) error {
	sessionID := args[0]
	ctx = logger.WithSession(ctx, p.log, sessionID, "payments")
	logger.FromContext(ctx).Debug().Msg("payproc: handling payment report")

	state, err := p.store.Get(sessionID)
	if err != nil {
		return nil // unknown session: out-of-order or stale, silently dropped (spec.md §7)
	}

	var pm messages.PaymentMessage
	if err := decodeJSON(payload, &pm); err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeDeserializeFailure, "decode payment message", err)
	}

	if state.PaymentRequest == nil || !state.PaymentRequest.SupportedCryptos.Contains(pm.CryptoCurrency) {
		if p.metrics != nil {
			p.metrics.PaymentsDroppedTotal.WithLabelValues("unsupported_crypto").Inc()
		}
		return nil // unsupported crypto: silently dropped, no ack (spec.md §4.4, §8.4)
	}

	if err := p.store.SetPaymentMessage(sessionID, pm); err != nil {
		return err
	}

	current := messages.AckMessage{}
	if state.Ack != nil {
		current = *state.Ack
	}
	ack := current.Evolve(
		messages.WithStatus(messages.StatusPending),
		messages.WithTransaction(pm.TransactionHash, pm.CryptoCurrency),
		messages.ClearURL(),
	)

	if err := p.publishAck(sessionID, ack); err != nil {
		return err
	}

	if p.onProcessedPayment != nil {
		p.onProcessedPayment(state.TXID, pm, ack)
	}
	return nil
}

// Confirming evolves a session's ack to CONFIRMING. No-op if the session
// does not exist (spec.md §4.4's external-transition contract).
func (p *Processor) Confirming(sessionID string) error {
	return p.transition(sessionID, messages.StatusConfirming, nil)
}

// Confirm evolves a session's ack to PAID, the terminal success state, and
// fires onProcessedConfirmation. The transaction store evicts the session
// synchronously as a side effect of the ack write (spec.md §4.3).
func (p *Processor) Confirm(sessionID string) error {
	return p.transition(sessionID, messages.StatusPaid, p.onProcessedConfirmation)
}

// Invalidate evolves a session's ack to INVALID with the given memo.
func (p *Processor) Invalidate(sessionID, reason string) error {
	return p.invalidate(sessionID, reason)
}

func (p *Processor) invalidate(sessionID, reason string) error {
	state, err := p.store.Get(sessionID)
	if err != nil {
		return nil // no-op if the session does not exist
	}
	current := messages.AckMessage{}
	if state.Ack != nil {
		current = *state.Ack
	}
	ack := current.Evolve(messages.WithStatus(messages.StatusInvalid), messages.WithMemo(reason))
	return p.publishAck(sessionID, ack)
}

func (p *Processor) transition(sessionID string, status messages.Status, onDone func(txid int64, ack messages.AckMessage)) error {
	state, err := p.store.Get(sessionID)
	if err != nil {
		return nil // no-op if the session does not exist
	}
	current := messages.AckMessage{}
	if state.Ack != nil {
		current = *state.Ack
	}
	ack := current.Evolve(messages.WithStatus(status))
	if err := p.publishAck(sessionID, ack); err != nil {
		return err
	}
	if onDone != nil {
		onDone(state.TXID, ack)
	}
	return nil
}

// publishAck writes the ack to storage (triggering eviction on terminal
// status) and publishes it on acks/{sid}.
func (p *Processor) publishAck(sessionID string, ack messages.AckMessage) error {
	if p.store.Exists(sessionID) {
		if err := p.store.SetAck(sessionID, ack); err != nil {
			return err
		}
	}

	body, err := encodeJSON(ack)
	if err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeDeserializeFailure, "encode ack", err)
	}
	if err := p.brk.Publish(fmt.Sprintf("acks/%s", sessionID), broker.QoS0, false, body); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.AcksPublishedTotal.WithLabelValues(ack.Status.String()).Inc()
		p.metrics.SessionsActive.Set(float64(p.store.Len()))
	}
	return nil
}
