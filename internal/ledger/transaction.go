package ledger

import (
	"fmt"
	"strings"

	"github.com/terminal-bench/txengine/pkg/amount"
)

// Client identifies the owner of an account.
type Client uint16

// TxID identifies a deposit or withdrawal.
type TxID uint32

// TxType is the kind of a transaction record
type TxType int

const (
	Deposit TxType = iota + 1
	Withdrawal
	Dispute
	Resolve
	Chargeback
)

var txTypeNames = map[TxType]string{
	Deposit:    "deposit",
	Withdrawal: "withdrawal",
	Dispute:    "dispute",
	Resolve:    "resolve",
	Chargeback: "chargeback",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// ParseTxType maps the wire name of a transaction type to a TxType.
func ParseTxType(s string) (TxType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range txTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction type %q", s)
}

// CarriesAmount reports whether records of this type carry their own amount.
func (t TxType) CarriesAmount() bool {
	return t == Deposit || t == Withdrawal
}

// Transaction is a single input record. Amount is meaningful only for
// deposits and withdrawals.
type Transaction struct {
	Type   TxType
	Client Client
	TxID   TxID
	Amount amount.Amount
}

// NewDeposit creates a deposit record
func NewDeposit(client Client, tx TxID, amt amount.Amount) Transaction {
	return Transaction{Type: Deposit, Client: client, TxID: tx, Amount: amt}
}

// NewWithdrawal creates a withdrawal record
func NewWithdrawal(client Client, tx TxID, amt amount.Amount) Transaction {
	return Transaction{Type: Withdrawal, Client: client, TxID: tx, Amount: amt}
}

// NewDispute creates a dispute record
func NewDispute(client Client, tx TxID) Transaction {
	return Transaction{Type: Dispute, Client: client, TxID: tx}
}

// NewResolve creates a resolve record
func NewResolve(client Client, tx TxID) Transaction {
	return Transaction{Type: Resolve, Client: client, TxID: tx}
}

// NewChargeback creates a chargeback record
func NewChargeback(client Client, tx TxID) Transaction {
	return Transaction{Type: Chargeback, Client: client, TxID: tx}
}
