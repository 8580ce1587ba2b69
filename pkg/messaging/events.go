package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeTransactionRejected = "tx.rejected"
	EventTypeAccountSnapshot     = "accounts.snapshot"
)

// Event is the envelope for every published message
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	RunID     uuid.UUID       `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TransactionRejectedEvent describes a transaction the ledger refused
type TransactionRejectedEvent struct {
	Type   string `json:"type"`
	Client uint16 `json:"client"`
	Tx     uint32 `json:"tx"`
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// AccountRecord is one row of an account snapshot
type AccountRecord struct {
	Client    uint16 `json:"client"`
	Available string `json:"available"`
	Held      string `json:"held"`
	Total     string `json:"total"`
	Locked    bool   `json:"locked"`
}

// AccountSnapshotEvent carries the final state of every account
type AccountSnapshotEvent struct {
	Accounts []AccountRecord `json:"accounts"`
}

// NewEvent creates a new event
func NewEvent(eventType string, runID uuid.UUID, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}, nil
}

// ParseEventData parses event data into the specified type
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Subject joins a subject prefix and an event type
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}
