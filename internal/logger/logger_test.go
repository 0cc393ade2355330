package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContextFallback(t *testing.T) {
	l := FromContext(context.Background())
	if l.GetLevel() != zerolog.Disabled {
		t.Errorf("expected a disabled fallback logger, got level %v", l.GetLevel())
	}
}

func TestWithSessionAttachesFields(t *testing.T) {
	base := New(Config{Level: "debug", Format: "json", Service: "payproc"})
	ctx := WithSession(context.Background(), base, "SID1", "payments/SID1")

	got := FromContext(ctx)
	if got.GetLevel() != zerolog.DebugLevel {
		t.Errorf("session logger level = %v, want debug", got.GetLevel())
	}

	var buf bytes.Buffer
	got.Output(&buf).Debug().Msg("probe")
	if !strings.Contains(buf.String(), `"session_id":"SID1"`) || !strings.Contains(buf.String(), `"topic":"payments/SID1"`) {
		t.Errorf("session logger output = %s, want session_id and topic fields", buf.String())
	}
}

func TestTruncateAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short", "short"},
		{"nano_1abcdefghijklmno", "nano_1ab...lmno"},
	}
	for _, tt := range tests {
		if got := TruncateAddress(tt.in); got != tt.want {
			t.Errorf("TruncateAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
