package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/terminal-bench/txengine/internal/ledger"
)

var accountHeader = []string{"client", "available", "held", "total", "locked"}

// WriteAccounts writes one CSV row per account, preceded by a header.
func WriteAccounts(w io.Writer, accounts iter.Seq[ledger.Account]) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(accountHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(accountHeader))
	for acct := range accounts {
		row[0] = strconv.FormatUint(uint64(acct.Client), 10)
		row[1] = acct.Available.String()
		row[2] = acct.Held.String()
		row[3] = acct.Total.String()
		row[4] = strconv.FormatBool(acct.Locked)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write client %d: %w", acct.Client, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
