package messages

import (
	"encoding/json"
	"fmt"
)

// Status is the closed set of transaction states a session can be in.
// Transitions are strictly monotone along New < Pending < Confirming < Paid;
// Invalid and Canceled are terminal and reachable only from a non-terminal
// state.
type Status int

const (
	StatusNew Status = iota
	StatusPending
	StatusConfirming
	StatusPaid
	StatusInvalid
	StatusCanceled
)

var statusNames = [...]string{
	StatusNew:        "new",
	StatusPending:    "pending",
	StatusConfirming: "confirming",
	StatusPaid:       "paid",
	StatusInvalid:    "invalid",
	StatusCanceled:   "canceled",
}

func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Terminal reports whether a status ends the session's lifecycle.
// Terminal acks evict the session from storage.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusInvalid || s == StatusCanceled
}

// ParseStatus parses the lowercase wire representation of a status.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("messages: unknown status %q", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
