package ledger

import (
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/terminal-bench/txengine/pkg/amount"
)

// Engine folds an ordered stream of transactions into account balances.
// It is not safe for concurrent use; Apply must be called from a single
// goroutine.
type Engine struct {
	accounts  map[Client]*Account
	txAmounts map[TxID]amount.Amount // deposit/withdrawal id -> first recorded amount
	disputed  map[TxID]struct{}
}

// NewEngine creates an empty engine
func NewEngine() *Engine {
	return &Engine{
		accounts:  make(map[Client]*Account),
		txAmounts: make(map[TxID]amount.Amount),
		disputed:  make(map[TxID]struct{}),
	}
}

// Apply applies a single transaction. A returned error means the transaction
// was rejected; the engine stays usable and later transactions may be applied.
func (e *Engine) Apply(tx Transaction) error {
	if tx.Type.CarriesAmount() {
		// Recorded even when the operation below fails, so a rejected
		// deposit or withdrawal can still be disputed later.
		if _, seen := e.txAmounts[tx.TxID]; !seen {
			e.txAmounts[tx.TxID] = tx.Amount
		}
	}

	var err error
	switch tx.Type {
	case Deposit:
		err = e.deposit(tx)
	case Withdrawal:
		err = e.withdraw(tx)
	case Dispute:
		err = e.dispute(tx)
	case Resolve:
		err = e.resolve(tx)
	case Chargeback:
		err = e.chargeback(tx)
	default:
		err = ErrUnsupportedType
	}
	if err != nil {
		return fmt.Errorf("%s tx %d for client %d: %w", tx.Type, tx.TxID, tx.Client, err)
	}
	return nil
}

func (e *Engine) deposit(tx Transaction) error {
	acct, err := e.account(tx.Client)
	if err != nil {
		return err
	}

	available, err := acct.Available.CheckedAdd(tx.Amount)
	if err != nil {
		return ErrAmountOverflow
	}
	total, err := acct.Total.CheckedAdd(tx.Amount)
	if err != nil {
		return ErrAmountOverflow
	}

	acct.Available = available
	acct.Total = total
	return nil
}

func (e *Engine) withdraw(tx Transaction) error {
	acct, err := e.account(tx.Client)
	if err != nil {
		return err
	}

	if acct.Available.LessThan(tx.Amount) {
		return ErrInsufficientFunds
	}

	available, err := acct.Available.CheckedSub(tx.Amount)
	if err != nil {
		return ErrAmountOverflow
	}
	total, err := acct.Total.CheckedSub(tx.Amount)
	if err != nil {
		return ErrAmountOverflow
	}

	acct.Available = available
	acct.Total = total
	return nil
}

func (e *Engine) dispute(tx Transaction) error {
	amt, ok := e.txAmounts[tx.TxID]
	if !ok {
		return ErrUnknownTx
	}

	acct, err := e.account(tx.Client)
	if err != nil {
		return err
	}

	if _, open := e.disputed[tx.TxID]; open {
		return nil
	}

	if acct.Available.LessThan(amt) {
		acct.Locked = true
		return ErrDisputeUncoverable
	}

	available, err := acct.Available.CheckedSub(amt)
	if err != nil {
		return ErrAmountOverflow
	}
	held, err := acct.Held.CheckedAdd(amt)
	if err != nil {
		return ErrAmountOverflow
	}

	acct.Available = available
	acct.Held = held
	e.disputed[tx.TxID] = struct{}{}
	return nil
}

// release looks up an open dispute and checks that its funds are still held.
// ok is false when tx does not reference an open dispute.
func (e *Engine) release(tx Transaction) (acct *Account, amt amount.Amount, ok bool, err error) {
	if _, open := e.disputed[tx.TxID]; !open {
		return nil, amount.Zero, false, nil
	}

	amt, found := e.txAmounts[tx.TxID]
	if !found {
		return nil, amount.Zero, false, ErrUnknownTx
	}

	acct, err = e.account(tx.Client)
	if err != nil {
		return nil, amount.Zero, false, err
	}

	if acct.Held.LessThan(amt) {
		return nil, amount.Zero, false, ErrHeldFundsInconsistent
	}
	return acct, amt, true, nil
}

func (e *Engine) resolve(tx Transaction) error {
	acct, amt, ok, err := e.release(tx)
	if err != nil || !ok {
		return err
	}

	available, err := acct.Available.CheckedAdd(amt)
	if err != nil {
		return ErrAmountOverflow
	}

	acct.Available = available
	acct.Held = acct.Held.Sub(amt)
	delete(e.disputed, tx.TxID)
	return nil
}

func (e *Engine) chargeback(tx Transaction) error {
	acct, amt, ok, err := e.release(tx)
	if err != nil || !ok {
		return err
	}

	total, err := acct.Total.CheckedSub(amt)
	if err != nil {
		return ErrAmountOverflow
	}

	acct.Held = acct.Held.Sub(amt)
	acct.Total = total
	acct.Locked = true
	delete(e.disputed, tx.TxID)
	return nil
}

// Accounts returns every known account in ascending client order. Each
// iteration takes a fresh snapshot, so the sequence may be ranged over again
// after further transactions are applied.
func (e *Engine) Accounts() iter.Seq[Account] {
	return func(yield func(Account) bool) {
		for _, client := range slices.Sorted(maps.Keys(e.accounts)) {
			if !yield(*e.accounts[client]) {
				return
			}
		}
	}
}

// Snapshot collects Accounts into a slice.
func (e *Engine) Snapshot() []Account {
	return slices.Collect(e.Accounts())
}

// Account returns a copy of the account for client.
func (e *Engine) Account(client Client) (Account, bool) {
	acct, ok := e.accounts[client]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}

// Disputed reports whether tx is under an open dispute.
func (e *Engine) Disputed(tx TxID) bool {
	_, ok := e.disputed[tx]
	return ok
}

// Len returns the number of known accounts.
func (e *Engine) Len() int {
	return len(e.accounts)
}
