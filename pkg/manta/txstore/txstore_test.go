package txstore

import (
	"testing"

	"github.com/CedrosPay/manta/pkg/manta/messages"
)

func newAck(status messages.Status) messages.AckMessage {
	return messages.AckMessage{TXID: "0", Status: status}
}

func TestCreateGetExists(t *testing.T) {
	s := NewMemoryStore()
	order := messages.MerchantOrderRequest{SessionID: "SID1", FiatCurrency: "EUR"}

	st, err := s.Create(0, "SID1", "app1", order, newAck(messages.StatusNew))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if st.TXID != 0 || st.SessionID != "SID1" {
		t.Errorf("Create() = %+v", st)
	}
	if !s.Exists("SID1") {
		t.Error("Exists(SID1) = false, want true")
	}
	if s.Exists("nope") {
		t.Error("Exists(nope) = true, want false")
	}

	got, err := s.Get("SID1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Order.FiatCurrency != "EUR" {
		t.Errorf("Get().Order = %+v", got.Order)
	}

	if _, err := s.Get("missing"); err == nil {
		t.Error("Get(missing) error = nil, want unknown-session error")
	}
}

func TestLenCountsOnlyLiveSessions(t *testing.T) {
	s := NewMemoryStore()
	s.Create(0, "SID1", "app1", messages.MerchantOrderRequest{}, newAck(messages.StatusNew))
	s.Create(1, "SID2", "app1", messages.MerchantOrderRequest{}, newAck(messages.StatusNew))

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	if err := s.SetAck("SID1", newAck(messages.StatusPaid)); err != nil {
		t.Fatalf("SetAck() error = %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("Len() after terminal ack = %d, want 1", s.Len())
	}
	if s.Exists("SID1") {
		t.Error("Exists(SID1) = true after terminal ack, want false")
	}
}

func TestSetAckNotifiesObservers(t *testing.T) {
	s := NewMemoryStore()
	s.Create(5, "SID1", "app1", messages.MerchantOrderRequest{}, newAck(messages.StatusNew))

	var got []ChangeNotification
	unsub := s.Subscribe(func(n ChangeNotification) { got = append(got, n) })
	defer unsub()

	if err := s.SetAck("SID1", newAck(messages.StatusPending)); err != nil {
		t.Fatalf("SetAck() error = %v", err)
	}

	if len(got) != 1 || got[0].TXID != 5 || got[0].Field != "ack" {
		t.Fatalf("got = %+v", got)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := NewMemoryStore()
	s.Create(0, "SID1", "app1", messages.MerchantOrderRequest{}, newAck(messages.StatusNew))

	called := false
	unsub := s.Subscribe(func(ChangeNotification) { called = true })
	unsub()

	s.SetAck("SID1", newAck(messages.StatusPending))
	if called {
		t.Error("unsubscribed observer was still invoked")
	}
}

func TestSetAckOnUnknownSessionErrors(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SetAck("nope", newAck(messages.StatusPaid)); err == nil {
		t.Error("SetAck() on unknown session error = nil, want error")
	}
}

func TestEachTerminalStatusEvicts(t *testing.T) {
	for _, status := range []messages.Status{messages.StatusPaid, messages.StatusInvalid, messages.StatusCanceled} {
		s := NewMemoryStore()
		s.Create(0, "SID1", "app1", messages.MerchantOrderRequest{}, newAck(messages.StatusNew))
		if err := s.SetAck("SID1", newAck(status)); err != nil {
			t.Fatalf("SetAck(%s) error = %v", status, err)
		}
		if s.Exists("SID1") {
			t.Errorf("session still exists after ack status %s", status)
		}
	}
}

func TestNonTerminalStatusDoesNotEvict(t *testing.T) {
	s := NewMemoryStore()
	s.Create(0, "SID1", "app1", messages.MerchantOrderRequest{}, newAck(messages.StatusNew))
	s.SetAck("SID1", newAck(messages.StatusPending))
	if !s.Exists("SID1") {
		t.Error("session evicted on non-terminal ack")
	}
	s.SetAck("SID1", newAck(messages.StatusConfirming))
	if !s.Exists("SID1") {
		t.Error("session evicted on confirming ack")
	}
}
