package ledger

import "github.com/terminal-bench/txengine/pkg/amount"

// Account represents a client's ledger state
type Account struct {
	Client    Client        `json:"client"`
	Available amount.Amount `json:"available"`
	Held      amount.Amount `json:"held"`
	Total     amount.Amount `json:"total"`
	Locked    bool          `json:"locked"`
}

// Balanced reports whether Total equals Available plus Held.
func (a Account) Balanced() bool {
	sum, err := a.Available.CheckedAdd(a.Held)
	return err == nil && sum == a.Total
}

// account returns the account for client, creating an empty one on first
// reference. Locked accounts are returned with ErrAccountLocked and must not
// be mutated.
func (e *Engine) account(client Client) (*Account, error) {
	acct, exists := e.accounts[client]
	if !exists {
		acct = &Account{Client: client}
		e.accounts[client] = acct
	}
	if acct.Locked {
		return nil, ErrAccountLocked
	}
	return acct, nil
}
