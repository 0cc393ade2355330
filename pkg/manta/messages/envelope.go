package messages

import "encoding/json"

// PaymentRequestEnvelope pairs a PaymentRequest's exact serialized bytes
// with a signature over those bytes. Producer and consumer both treat
// Message as opaque: it is never re-serialized before verifying, since
// re-encoding could silently change byte-for-byte content (field order,
// whitespace) and invalidate a signature that was otherwise valid.
type PaymentRequestEnvelope struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Version   string `json:"version,omitempty"`
}

// Unpack deserializes the enclosed PaymentRequest. Callers that need to
// verify the signature should do so against Message before trusting the
// result; Unpack performs no verification itself.
func (e PaymentRequestEnvelope) Unpack() (PaymentRequest, error) {
	var pr PaymentRequest
	if err := json.Unmarshal([]byte(e.Message), &pr); err != nil {
		return PaymentRequest{}, err
	}
	return pr, nil
}

// NewEnvelope packs a PaymentRequest's canonical JSON bytes together with a
// pre-computed signature over those same bytes.
func NewEnvelope(message []byte, signatureB64 string) PaymentRequestEnvelope {
	return PaymentRequestEnvelope{
		Message:   string(message),
		Signature: signatureB64,
		Version:   WireVersion,
	}
}
