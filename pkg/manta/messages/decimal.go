package messages

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal carries an exact, arbitrary-precision amount across the wire.
// It wraps decimal.Decimal rather than float64 so that every implementation
// of this protocol agrees bit-for-bit on amounts; the wire representation is
// always a JSON string, though an unquoted numeric literal is also accepted
// on decode for interoperability with encoders that don't quote decimals.
type Decimal struct {
	decimal.Decimal
}

// NewDecimal wraps a decimal.Decimal.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{d}
}

// ParseDecimal parses a decimal string into a Decimal.
func ParseDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("messages: invalid decimal %q: %w", s, err)
	}
	return Decimal{d}, nil
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Decimal.String())
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := decimal.NewFromString(asString)
		if err != nil {
			return fmt.Errorf("messages: invalid decimal %q: %w", asString, err)
		}
		d.Decimal = parsed
		return nil
	}

	// Tolerate an unquoted JSON number, since not every Manta implementation
	// on the wire quotes its decimals.
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("messages: decimal must be a string or number: %w", err)
	}
	parsed, err := decimal.NewFromString(asNumber.String())
	if err != nil {
		return fmt.Errorf("messages: invalid decimal %q: %w", asNumber.String(), err)
	}
	d.Decimal = parsed
	return nil
}
