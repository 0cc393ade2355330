package dispatch

import (
	"context"
	"reflect"
	"testing"
)

func TestPatternToRegexSingleSegment(t *testing.T) {
	re := PatternToRegex("merchant_order_request/+")
	cases := map[string]bool{
		"merchant_order_request/app1":     true,
		"merchant_order_request/app1/sub": false,
		"merchant_order_request/":         false,
	}
	for topic, want := range cases {
		if got := mustMatch(t, re, topic); got != want {
			t.Errorf("pattern %q vs topic %q: matched = %v, want %v", re, topic, got, want)
		}
	}
}

func TestPatternToRegexTrailingHash(t *testing.T) {
	re := PatternToRegex("payment_requests/+/#")
	if !mustMatch(t, re, "payment_requests/SID1/a/b/c") {
		t.Error("expected trailing # to match a multi-segment tail")
	}
}

func TestSplitTail(t *testing.T) {
	if got := SplitTail("a/b/c"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("SplitTail() = %v", got)
	}
	if got := SplitTail(""); got != nil {
		t.Errorf("SplitTail(\"\") = %v, want nil", got)
	}
}

func TestDispatchInvokesMatchingHandlersInRegistrationOrder(t *testing.T) {
	d := New()
	var order []string

	d.MustRegister("merchant_order_request/+", func(ctx context.Context, args []string, payload []byte) error {
		order = append(order, "specific:"+args[0])
		return nil
	})
	d.MustRegister("merchant_order_request/#", func(ctx context.Context, args []string, payload []byte) error {
		order = append(order, "wildcard")
		return nil
	})

	d.Dispatch(context.Background(), "merchant_order_request/app1", nil, nil)

	want := []string{"specific:app1", "wildcard"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestDispatchSkipsNonMatchingPatternsSilently(t *testing.T) {
	d := New()
	called := false
	d.MustRegister("payments/+", func(ctx context.Context, args []string, payload []byte) error {
		called = true
		return nil
	})

	d.Dispatch(context.Background(), "acks/SID1", nil, nil)
	if called {
		t.Error("handler should not have been invoked for a non-matching topic")
	}
}

func TestDispatchRecoversFromHandlerPanic(t *testing.T) {
	d := New()
	d.MustRegister("payments/+", func(ctx context.Context, args []string, payload []byte) error {
		panic("boom")
	})

	var gotErr error
	d.Dispatch(context.Background(), "payments/SID1", nil, func(pattern string, err error) {
		gotErr = err
	})
	if gotErr == nil {
		t.Error("expected dispatch to surface the recovered panic as an error")
	}
}

func TestDispatchContinuesAfterHandlerError(t *testing.T) {
	d := New()
	secondCalled := false
	d.MustRegister("payments/+", func(ctx context.Context, args []string, payload []byte) error {
		return context.DeadlineExceeded
	})
	d.MustRegister("payments/#", func(ctx context.Context, args []string, payload []byte) error {
		secondCalled = true
		return nil
	})

	d.Dispatch(context.Background(), "payments/SID1", nil, nil)
	if !secondCalled {
		t.Error("a handler error must not prevent subsequent handlers from running")
	}
}

func mustMatch(t *testing.T, re, topic string) bool {
	t.Helper()
	d := New()
	matched := false
	d.MustRegister(unanchor(re), func(ctx context.Context, args []string, payload []byte) error {
		matched = true
		return nil
	})
	d.Dispatch(context.Background(), topic, nil, nil)
	return matched
}

// unanchor converts a compiled PatternToRegex result back into an MQTT
// pattern so Register can recompile it; tests exercise PatternToRegex
// indirectly through the public dispatch path rather than reaching into
// unexported route internals.
func unanchor(re string) string {
	s := re
	s = trimPrefix(s, "^")
	s = trimSuffix(s, "$")
	replacements := map[string]string{
		`([^/]+)`: "+",
		`(.*)`:    "#",
	}
	for from, to := range replacements {
		s = replaceAll(s, from, to)
	}
	return s
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

func trimSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func replaceAll(s, from, to string) string {
	out := ""
	for len(s) > 0 {
		if len(s) >= len(from) && s[:len(from)] == from {
			out += to
			s = s[len(from):]
			continue
		}
		out += s[:1]
		s = s[1:]
	}
	return out
}
