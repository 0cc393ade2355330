package errors

import (
	"errors"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeBrokerDisconnected, true},
		{ErrCodeBrokerPublish, true},
		{ErrCodeTimeout, true},
		{ErrCodeInvalidSignature, false},
		{ErrCodeUnknownSession, false},
		{ErrCodeUnsupportedCrypto, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrCodeBrokerPublish, "publish failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should find wrapped cause")
	}
	if err.Error() == "" {
		t.Fatal("Error() should not be empty")
	}

	plain := New(ErrCodeUnknownSession, "no such session")
	if plain.Unwrap() != nil {
		t.Fatal("plain error should not unwrap to anything")
	}
}
