package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/terminal-bench/txengine/internal/ledger"
	"github.com/terminal-bench/txengine/pkg/amount"
)

var (
	ErrMissingColumn  = errors.New("missing required column")
	ErrMissingAmount  = errors.New("missing amount")
	ErrNegativeAmount = errors.New("negative amount")
)

// RecordError describes a single input row that could not be decoded. The
// Reader remains usable after returning one.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

type columns struct {
	typ, client, tx, amount int
}

// Reader decodes transaction records from CSV with a
// "type, client, tx, amount" header. Column order is taken from the header.
type Reader struct {
	r    *csv.Reader
	cols *columns
}

// NewReader creates a transaction reader over r
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &Reader{r: cr}
}

// Next returns the next transaction. It returns io.EOF once the input is
// exhausted, a *RecordError for a malformed row, and any other error when
// the underlying input fails.
func (r *Reader) Next() (ledger.Transaction, error) {
	if r.cols == nil {
		if err := r.readHeader(); err != nil {
			return ledger.Transaction{}, err
		}
	}

	for {
		record, err := r.r.Read()
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return ledger.Transaction{}, &RecordError{Line: parseErr.StartLine, Err: parseErr.Err}
			}
			return ledger.Transaction{}, err
		}
		if blank(record) {
			continue
		}

		line, _ := r.r.FieldPos(0)
		tx, err := r.decode(record)
		if err != nil {
			return ledger.Transaction{}, &RecordError{Line: line, Err: err}
		}
		return tx, nil
	}
}

func (r *Reader) readHeader() error {
	record, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read header: %w", err)
	}

	cols := columns{typ: -1, client: -1, tx: -1, amount: -1}
	for i, name := range record {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "type":
			cols.typ = i
		case "client":
			cols.client = i
		case "tx":
			cols.tx = i
		case "amount":
			cols.amount = i
		}
	}

	switch {
	case cols.typ < 0:
		return fmt.Errorf("%w: type", ErrMissingColumn)
	case cols.client < 0:
		return fmt.Errorf("%w: client", ErrMissingColumn)
	case cols.tx < 0:
		return fmt.Errorf("%w: tx", ErrMissingColumn)
	}

	r.cols = &cols
	return nil
}

func (r *Reader) decode(record []string) (ledger.Transaction, error) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	typ, err := ledger.ParseTxType(field(r.cols.typ))
	if err != nil {
		return ledger.Transaction{}, err
	}

	client, err := strconv.ParseUint(field(r.cols.client), 10, 16)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("invalid client: %w", err)
	}

	id, err := strconv.ParseUint(field(r.cols.tx), 10, 32)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("invalid tx: %w", err)
	}

	tx := ledger.Transaction{
		Type:   typ,
		Client: ledger.Client(client),
		TxID:   ledger.TxID(id),
	}
	if !typ.CarriesAmount() {
		return tx, nil
	}

	raw := field(r.cols.amount)
	if raw == "" {
		return ledger.Transaction{}, ErrMissingAmount
	}
	amt, err := amount.Parse(raw)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if amt.IsNegative() {
		return ledger.Transaction{}, fmt.Errorf("%w: %s", ErrNegativeAmount, raw)
	}
	tx.Amount = amt
	return tx, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
