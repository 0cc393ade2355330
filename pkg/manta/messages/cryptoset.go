package messages

import (
	"encoding/json"
	"sort"
	"strings"
)

// CryptoSet is the set of crypto-currency codes a PaymentRequest accepts.
// Membership checks are case-insensitive (the source compares
// crypto_currency.upper() against the set) but the original casing supplied
// by the caller is preserved for serialization.
type CryptoSet map[string]string // upper(code) -> code as supplied

// NewCryptoSet builds a CryptoSet from a list of currency codes.
func NewCryptoSet(codes ...string) CryptoSet {
	s := make(CryptoSet, len(codes))
	for _, c := range codes {
		s[strings.ToUpper(c)] = c
	}
	return s
}

// Contains reports whether code is a member, ignoring case.
func (s CryptoSet) Contains(code string) bool {
	_, ok := s[strings.ToUpper(code)]
	return ok
}

// Add inserts a currency code.
func (s CryptoSet) Add(code string) {
	s[strings.ToUpper(code)] = code
}

// Slice returns the member codes in their original casing, sorted for
// deterministic output.
func (s CryptoSet) Slice() []string {
	out := make([]string, 0, len(s))
	for _, original := range s {
		out = append(out, original)
	}
	sort.Strings(out)
	return out
}

func (s CryptoSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *CryptoSet) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewCryptoSet(codes...)
	return nil
}
