// Package messages defines the wire types exchanged over the broker:
// merchant orders, payment requests and their signed envelope, payment
// reports, and the ack that carries session progress. All JSON encoding
// follows §3/§6 of the protocol: decimals are strings, sets are arrays, and
// unknown fields are ignored on decode.
package messages

// WireVersion is stamped on every outbound message. Inbound messages may
// omit it; absence is tolerated, not an error.
const WireVersion = "1"

// Merchant identifies the party being paid.
type Merchant struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Destination is one accepted payment target: an amount, a chain address,
// and the currency it is denominated in.
type Destination struct {
	Amount             Decimal `json:"amount"`
	DestinationAddress string  `json:"destination_address"`
	CryptoCurrency     string  `json:"crypto_currency"`
}

// MerchantOrderRequest is published by the POS to start a session. An empty
// CryptoCurrency selects Manta mode (the PP mints a manta:// URL); a
// non-empty value selects legacy single-crypto mode.
type MerchantOrderRequest struct {
	Amount         Decimal `json:"amount"`
	SessionID      string  `json:"session_id"`
	FiatCurrency   string  `json:"fiat_currency"`
	CryptoCurrency string  `json:"crypto_currency,omitempty"`
	Version        string  `json:"version,omitempty"`
}

// LegacyMode reports whether this order selects the legacy single-crypto
// flow instead of the Manta negotiation flow.
func (r MerchantOrderRequest) LegacyMode() bool {
	return r.CryptoCurrency != ""
}

// PaymentRequest is the quote the PP assembles in response to a Wallet's
// request for payment instructions.
type PaymentRequest struct {
	Merchant         Merchant      `json:"merchant"`
	Amount           Decimal       `json:"amount"`
	FiatCurrency     string        `json:"fiat_currency"`
	Destinations     []Destination `json:"destinations"`
	SupportedCryptos CryptoSet     `json:"supported_cryptos"`
	Version          string        `json:"version,omitempty"`
}

// PaymentMessage is published by the Wallet once it has broadcast the
// on-chain transaction.
type PaymentMessage struct {
	CryptoCurrency  string `json:"crypto_currency"`
	TransactionHash string `json:"transaction_hash"`
	Version         string `json:"version,omitempty"`
}

// AckMessage is the PP's progress report, published on acks/{session_id}
// after every state transition.
type AckMessage struct {
	TXID                string  `json:"txid"`
	Status              Status  `json:"status"`
	URL                 string  `json:"url,omitempty"`
	Amount              *Decimal `json:"amount,omitempty"`
	TransactionHash     string  `json:"transaction_hash,omitempty"`
	TransactionCurrency string  `json:"transaction_currency,omitempty"`
	Memo                string  `json:"memo,omitempty"`
	Version             string  `json:"version,omitempty"`
}

// Evolve returns a copy of the ack with the given field-setting functions
// applied. Transitions never mutate an existing AckMessage in place, so the
// non-decreasing status invariant (§8.2) stays locally checkable: every
// published ack is a fresh value, never an aliased one.
func (a AckMessage) Evolve(opts ...func(*AckMessage)) AckMessage {
	next := a
	for _, opt := range opts {
		opt(&next)
	}
	return next
}

func WithStatus(s Status) func(*AckMessage) {
	return func(a *AckMessage) { a.Status = s }
}

func WithTransaction(hash, currency string) func(*AckMessage) {
	return func(a *AckMessage) {
		a.TransactionHash = hash
		a.TransactionCurrency = currency
	}
}

func WithMemo(memo string) func(*AckMessage) {
	return func(a *AckMessage) { a.Memo = memo }
}

func ClearURL() func(*AckMessage) {
	return func(a *AckMessage) { a.URL = "" }
}
