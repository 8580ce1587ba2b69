package ledger

import "errors"

var (
	ErrAccountLocked         = errors.New("account locked")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrUnknownTx             = errors.New("unknown transaction")
	ErrDisputeUncoverable    = errors.New("available funds cannot cover dispute")
	ErrHeldFundsInconsistent = errors.New("held funds below released amount")
	ErrUnsupportedType       = errors.New("unsupported transaction type")
	ErrAmountOverflow        = errors.New("balance overflow")
)

// IsConsistencyFault reports whether err signals broken internal bookkeeping
// rather than an ordinary business rejection.
func IsConsistencyFault(err error) bool {
	return errors.Is(err, ErrHeldFundsInconsistent)
}

// Reason returns a short stable label for err, suitable for counters and
// event payloads.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrUnknownTx):
		return "unknown_tx"
	case errors.Is(err, ErrDisputeUncoverable):
		return "dispute_uncoverable"
	case errors.Is(err, ErrHeldFundsInconsistent):
		return "held_funds_inconsistent"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrAmountOverflow):
		return "amount_overflow"
	default:
		return "other"
	}
}
