package processor

import (
	"context"

	"github.com/google/uuid"
	"github.com/terminal-bench/txengine/internal/ledger"
	"github.com/terminal-bench/txengine/pkg/circuit"
	"github.com/terminal-bench/txengine/pkg/messaging"
)

// Sender publishes a JSON-encodable value to a subject. *messaging.Client
// satisfies it.
type Sender interface {
	Publish(ctx context.Context, subject string, data any) error
}

// EventPublisher turns ledger outcomes into messaging events. Every send goes
// through the breaker so an unavailable broker is skipped quickly.
type EventPublisher struct {
	sender  Sender
	breaker *circuit.Breaker
	prefix  string
	runID   uuid.UUID
}

// NewEventPublisher creates a publisher sending under subject prefix.
func NewEventPublisher(sender Sender, breaker *circuit.Breaker, prefix string, runID uuid.UUID) *EventPublisher {
	if breaker == nil {
		breaker = circuit.NewBreaker(circuit.Config{Name: "publisher"})
	}
	return &EventPublisher{
		sender:  sender,
		breaker: breaker,
		prefix:  prefix,
		runID:   runID,
	}
}

// TransactionRejected publishes a tx.rejected event.
func (p *EventPublisher) TransactionRejected(ctx context.Context, tx ledger.Transaction, reason error) error {
	payload := messaging.TransactionRejectedEvent{
		Type:   tx.Type.String(),
		Client: uint16(tx.Client),
		Tx:     uint32(tx.TxID),
		Reason: ledger.Reason(reason),
	}
	if reason != nil {
		payload.Error = reason.Error()
	}
	if tx.Type.CarriesAmount() {
		payload.Amount = tx.Amount.String()
	}
	return p.send(ctx, messaging.EventTypeTransactionRejected, payload)
}

// AccountSnapshot publishes an accounts.snapshot event.
func (p *EventPublisher) AccountSnapshot(ctx context.Context, accounts []ledger.Account) error {
	records := make([]messaging.AccountRecord, 0, len(accounts))
	for _, acct := range accounts {
		records = append(records, messaging.AccountRecord{
			Client:    uint16(acct.Client),
			Available: acct.Available.String(),
			Held:      acct.Held.String(),
			Total:     acct.Total.String(),
			Locked:    acct.Locked,
		})
	}
	return p.send(ctx, messaging.EventTypeAccountSnapshot, messaging.AccountSnapshotEvent{Accounts: records})
}

func (p *EventPublisher) send(ctx context.Context, eventType string, data any) error {
	event, err := messaging.NewEvent(eventType, p.runID, data)
	if err != nil {
		return err
	}

	subject := messaging.Subject(p.prefix, eventType)
	return p.breaker.Execute(ctx, func() error {
		return p.sender.Publish(ctx, subject, event)
	})
}
