// Package txstore implements the transaction storage abstraction the PP
// state machine sits on: a keyed store of per-session state with
// change-notification callbacks and terminal-state eviction (spec.md §4.3).
//
// Grounded on original_source/manta/payproclib.py's session_data dict and
// the teacher's internal/storage package's interface-plus-in-memory-backend
// shape: a narrow Store interface any persistent implementation could also
// satisfy, shipped here with only the in-memory reference backend per
// spec.md's Non-goals.
package txstore

import (
	"fmt"
	"sync"

	mantaerrors "github.com/CedrosPay/manta/internal/errors"
	"github.com/CedrosPay/manta/pkg/manta/messages"
)

// State is one session's PP-internal record. Every mutable field is
// exclusively owned by the Store; callers obtain a *State via Get/Create for
// reading, but mutations always go through the Store's Set* methods so a
// change-notification fires. Direct field assignment from outside the
// package would silently bypass eviction and any future persistent backend's
// write path.
type State struct {
	TXID           int64
	SessionID      string
	AppID          string
	Order          messages.MerchantOrderRequest
	PaymentRequest *messages.PaymentRequest
	PaymentMessage *messages.PaymentMessage
	Ack            *messages.AckMessage
	WalletRequest  string
}

// ChangeNotification describes one field mutation on a session's State.
type ChangeNotification struct {
	TXID  int64
	Field string
	Value any
}

// Observer is notified synchronously, on the mutating goroutine, after every
// Set* call. Storage change-notifications fire synchronously per spec.md §5.
type Observer func(ChangeNotification)

// Entry pairs a session id with its state, returned by All().
type Entry struct {
	SessionID string
	State     *State
}

// Store is the contract the PP state machine depends on. The reference
// implementation (MemoryStore) is the only backend this module ships; a
// persistent backend implementing this interface is the pluggable seam
// spec.md's Non-goals call out.
type Store interface {
	// Create inserts a new session. If sessionID already exists the
	// reference implementation overwrites it (spec.md §4.3); it never
	// silently corrupts existing state.
	Create(txid int64, sessionID, appID string, order messages.MerchantOrderRequest, initialAck messages.AckMessage) (*State, error)
	// Get returns the session's state, or an ErrCodeUnknownSession error.
	Get(sessionID string) (*State, error)
	// Exists reports session membership.
	Exists(sessionID string) bool
	// All returns every live session, in no particular order.
	All() []Entry
	// Len reports the number of live (non-terminal) sessions.
	Len() int

	SetAck(sessionID string, ack messages.AckMessage) error
	SetPaymentRequest(sessionID string, pr messages.PaymentRequest) error
	SetPaymentMessage(sessionID string, pm messages.PaymentMessage) error
	SetWalletRequest(sessionID string, crypto string) error

	// Subscribe registers o for every future change notification and
	// returns a function that unregisters it.
	Subscribe(o Observer) (unsubscribe func())

	Close() error
}

// MemoryStore is the in-memory reference Store. A built-in observer evicts
// a session the instant its ack transitions to a terminal status (Paid,
// Invalid, Canceled), bounding memory and ensuring no further traffic is
// accepted for a completed session (spec.md §4.3, §8.9).
type MemoryStore struct {
	mu            sync.RWMutex
	bySession     map[string]*State
	sessionByTXID map[int64]string

	obsMu     sync.Mutex
	observers []Observer
}

// NewMemoryStore creates an empty store with terminal-state eviction wired
// in as its first observer.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		bySession:     make(map[string]*State),
		sessionByTXID: make(map[int64]string),
	}
	s.Subscribe(s.evictOnTerminal)
	return s
}

func (s *MemoryStore) evictOnTerminal(n ChangeNotification) {
	if n.Field != "ack" {
		return
	}
	ack, ok := n.Value.(messages.AckMessage)
	if !ok || !ack.Status.Terminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID, ok := s.sessionByTXID[n.TXID]
	if !ok {
		return
	}
	delete(s.bySession, sessionID)
	delete(s.sessionByTXID, n.TXID)
}

// Create inserts (or overwrites) a session's state.
func (s *MemoryStore) Create(txid int64, sessionID, appID string, order messages.MerchantOrderRequest, initialAck messages.AckMessage) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ack := initialAck
	st := &State{
		TXID:      txid,
		SessionID: sessionID,
		AppID:     appID,
		Order:     order,
		Ack:       &ack,
	}
	s.bySession[sessionID] = st
	s.sessionByTXID[txid] = sessionID
	return st, nil
}

// Get returns the session's state.
func (s *MemoryStore) Get(sessionID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.bySession[sessionID]
	if !ok {
		return nil, unknownSession(sessionID)
	}
	return st, nil
}

// Exists reports session membership.
func (s *MemoryStore) Exists(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bySession[sessionID]
	return ok
}

// All returns every live session.
func (s *MemoryStore) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.bySession))
	for sid, st := range s.bySession {
		out = append(out, Entry{SessionID: sid, State: st})
	}
	return out
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySession)
}

// SetAck replaces the session's ack and notifies observers. Evolution
// happens entirely in the caller (messages.AckMessage.Evolve); the store
// just records the resulting value and fans it out.
func (s *MemoryStore) SetAck(sessionID string, ack messages.AckMessage) error {
	txid, err := s.mutate(sessionID, func(st *State) { st.Ack = &ack })
	if err != nil {
		return err
	}
	s.notify(ChangeNotification{TXID: txid, Field: "ack", Value: ack})
	return nil
}

// SetPaymentRequest records the PaymentRequest the PP assembled for this
// session (unpacked from the envelope it signed and published).
func (s *MemoryStore) SetPaymentRequest(sessionID string, pr messages.PaymentRequest) error {
	txid, err := s.mutate(sessionID, func(st *State) { st.PaymentRequest = &pr })
	if err != nil {
		return err
	}
	s.notify(ChangeNotification{TXID: txid, Field: "payment_request", Value: pr})
	return nil
}

// SetPaymentMessage records the Wallet's on-chain transaction report.
func (s *MemoryStore) SetPaymentMessage(sessionID string, pm messages.PaymentMessage) error {
	txid, err := s.mutate(sessionID, func(st *State) { st.PaymentMessage = &pm })
	if err != nil {
		return err
	}
	s.notify(ChangeNotification{TXID: txid, Field: "payment_message", Value: pm})
	return nil
}

// SetWalletRequest records which crypto the Wallet asked for when it
// requested payment instructions ("all" or a specific code).
func (s *MemoryStore) SetWalletRequest(sessionID string, crypto string) error {
	txid, err := s.mutate(sessionID, func(st *State) { st.WalletRequest = crypto })
	if err != nil {
		return err
	}
	s.notify(ChangeNotification{TXID: txid, Field: "wallet_request", Value: crypto})
	return nil
}

// mutate locates sessionID, applies fn under the write lock, and returns its
// txid for the caller to build a ChangeNotification with — notification
// always fires after the lock is released (see notify), so an observer that
// re-enters the store (the eviction observer does) never deadlocks.
func (s *MemoryStore) mutate(sessionID string, fn func(*State)) (int64, error) {
	s.mu.Lock()
	st, ok := s.bySession[sessionID]
	if !ok {
		s.mu.Unlock()
		return 0, unknownSession(sessionID)
	}
	fn(st)
	txid := st.TXID
	s.mu.Unlock()
	return txid, nil
}

func (s *MemoryStore) notify(n ChangeNotification) {
	s.obsMu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()

	for _, o := range observers {
		if o != nil {
			o(n)
		}
	}
}

// Subscribe registers o for every future change notification.
func (s *MemoryStore) Subscribe(o Observer) func() {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	idx := len(s.observers) - 1
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		if idx < len(s.observers) {
			s.observers[idx] = nil
		}
	}
}

// Close is a no-op for the in-memory backend; it exists so MemoryStore
// satisfies io.Closer for registration with internal/lifecycle.Manager,
// matching the teacher's storage.Store convention.
func (s *MemoryStore) Close() error {
	return nil
}

func unknownSession(sessionID string) error {
	return mantaerrors.New(mantaerrors.ErrCodeUnknownSession, fmt.Sprintf("txstore: unknown session %q", sessionID))
}
