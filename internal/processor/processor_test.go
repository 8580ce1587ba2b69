package processor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/txengine/internal/csvio"
	"github.com/terminal-bench/txengine/internal/ledger"
	"github.com/terminal-bench/txengine/pkg/amount"
	"github.com/terminal-bench/txengine/pkg/circuit"
	"github.com/terminal-bench/txengine/pkg/messaging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type sliceSource struct {
	items []item
	pos   int
}

func (s *sliceSource) Next() (ledger.Transaction, error) {
	if s.pos >= len(s.items) {
		return ledger.Transaction{}, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	return it.tx, it.err
}

func source(txs ...ledger.Transaction) *sliceSource {
	s := &sliceSource{}
	for _, tx := range txs {
		s.items = append(s.items, item{tx: tx})
	}
	return s
}

type recordingPublisher struct {
	rejected  []ledger.Transaction
	snapshots [][]ledger.Account
	err       error
}

func (p *recordingPublisher) TransactionRejected(_ context.Context, tx ledger.Transaction, _ error) error {
	p.rejected = append(p.rejected, tx)
	return p.err
}

func (p *recordingPublisher) AccountSnapshot(_ context.Context, accounts []ledger.Account) error {
	p.snapshots = append(p.snapshots, accounts)
	return p.err
}

func newObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func amt(s string) amount.Amount { return amount.MustParse(s) }

func TestRun(t *testing.T) {
	t.Run("should apply transactions in arrival order", func(t *testing.T) {
		var txs []ledger.Transaction
		for i := 1; i <= 500; i++ {
			client := ledger.Client(i % 7)
			id := ledger.TxID(i)
			switch i % 5 {
			case 0:
				txs = append(txs, ledger.NewWithdrawal(client, id, amt("3")))
			case 1:
				txs = append(txs, ledger.NewDispute(client, id-5))
			case 2:
				txs = append(txs, ledger.NewResolve(client, id-6))
			default:
				txs = append(txs, ledger.NewDeposit(client, id, amt("2.5")))
			}
		}

		want := ledger.NewEngine()
		for _, tx := range txs {
			_ = want.Apply(tx)
		}

		engine := ledger.NewEngine()
		summary, err := New(engine, nil, WithBuffer(1)).Run(context.Background(), source(txs...))

		require.NoError(t, err)
		assert.Equal(t, 500, summary.Processed)
		assert.Equal(t, summary.Processed, summary.Applied+summary.Rejected)
		assert.Equal(t, want.Snapshot(), engine.Snapshot())
	})

	t.Run("should log rejections and keep going", func(t *testing.T) {
		logger, logs := newObserved()
		engine := ledger.NewEngine()
		pub := &recordingPublisher{}

		summary, err := New(engine, logger, WithPublisher(pub)).Run(context.Background(), source(
			ledger.NewWithdrawal(1, 1, amt("5")),
			ledger.NewDeposit(1, 2, amt("10")),
			ledger.NewDispute(1, 99),
		))

		require.NoError(t, err)
		assert.Equal(t, 1, summary.Applied)
		assert.Equal(t, 2, summary.Rejected)
		assert.Equal(t, map[string]int{"insufficient_funds": 1, "unknown_tx": 1}, summary.ByReason)

		rejected := logs.FilterMessage("transaction rejected").All()
		require.Len(t, rejected, 2)
		assert.Equal(t, zapcore.WarnLevel, rejected[0].Level)
		ctx := rejected[0].ContextMap()
		assert.Equal(t, "withdrawal", ctx["type"])
		assert.EqualValues(t, 1, ctx["client"])
		assert.EqualValues(t, 1, ctx["tx"])
		assert.Equal(t, "insufficient_funds", ctx["reason"])

		require.Len(t, pub.rejected, 2)
		assert.Equal(t, ledger.TxID(99), pub.rejected[1].TxID)

		got, _ := engine.Account(1)
		assert.Equal(t, "10.0000", got.Available.String())
	})

	t.Run("should skip malformed records", func(t *testing.T) {
		logger, logs := newObserved()
		engine := ledger.NewEngine()
		src := &sliceSource{items: []item{
			{err: &csvio.RecordError{Line: 2, Err: csvio.ErrMissingAmount}},
			{tx: ledger.NewDeposit(1, 1, amt("1"))},
		}}

		summary, err := New(engine, logger).Run(context.Background(), src)

		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, 1, summary.Applied)
		assert.Equal(t, 1, logs.FilterMessage("skipping malformed record").Len())
	})

	t.Run("should ignore publisher failures", func(t *testing.T) {
		engine := ledger.NewEngine()
		pub := &recordingPublisher{err: errors.New("broker down")}

		_, err := New(engine, nil, WithPublisher(pub)).Run(context.Background(), source(
			ledger.NewWithdrawal(1, 1, amt("5")),
		))

		assert.NoError(t, err)
	})

	t.Run("should stop at the first rejection when failing fast", func(t *testing.T) {
		engine := ledger.NewEngine()

		summary, err := New(engine, nil, WithFailFast(true)).Run(context.Background(), source(
			ledger.NewDeposit(1, 1, amt("1")),
			ledger.NewWithdrawal(1, 2, amt("5")),
			ledger.NewDeposit(1, 3, amt("1")),
		))

		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		assert.Equal(t, 1, summary.Applied)
		got, _ := engine.Account(1)
		assert.Equal(t, "1.0000", got.Total.String())
	})

	t.Run("should stop at the first malformed record when failing fast", func(t *testing.T) {
		src := &sliceSource{items: []item{
			{err: &csvio.RecordError{Line: 2, Err: csvio.ErrMissingAmount}},
			{tx: ledger.NewDeposit(1, 1, amt("1"))},
		}}

		_, err := New(ledger.NewEngine(), nil, WithFailFast(true)).Run(context.Background(), src)

		assert.ErrorIs(t, err, csvio.ErrMissingAmount)
	})

	t.Run("should return input failures", func(t *testing.T) {
		src := &sliceSource{items: []item{
			{tx: ledger.NewDeposit(1, 1, amt("1"))},
			{err: io.ErrUnexpectedEOF},
		}}

		_, err := New(ledger.NewEngine(), nil).Run(context.Background(), src)

		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := New(ledger.NewEngine(), nil).Run(ctx, source(ledger.NewDeposit(1, 1, amt("1"))))

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should process csv input end to end", func(t *testing.T) {
		input := "type, client, tx, amount\n" +
			"deposit, 1, 1, 1.0\n" +
			"deposit, 2, 2, 2.0\n" +
			"deposit, 1, 3, 2.0\n" +
			"withdrawal, 1, 4, 1.5\n" +
			"withdrawal, 2, 5, 3.0\n" +
			"dispute, 1, 1,\n" +
			"chargeback, 1, 1,\n" +
			"deposit, 1, 6, oops\n"
		engine := ledger.NewEngine()

		summary, err := New(engine, nil).Run(context.Background(), csvio.NewReader(strings.NewReader(input)))

		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, 1, summary.Rejected)
		assert.Equal(t, []ledger.Account{
			{Client: 1, Available: amt("0.5"), Held: amt("0"), Total: amt("0.5"), Locked: true},
			{Client: 2, Available: amt("2"), Held: amt("0"), Total: amt("2")},
		}, engine.Snapshot())
	})
}

func TestFinish(t *testing.T) {
	t.Run("should publish the final snapshot", func(t *testing.T) {
		logger, logs := newObserved()
		engine := ledger.NewEngine()
		pub := &recordingPublisher{}
		p := New(engine, logger, WithPublisher(pub))
		_, err := p.Run(context.Background(), source(
			ledger.NewDeposit(2, 1, amt("1")),
			ledger.NewDeposit(1, 2, amt("1")),
		))
		require.NoError(t, err)

		accounts := p.Finish(context.Background())

		require.Len(t, accounts, 2)
		assert.Equal(t, ledger.Client(1), accounts[0].Client)
		require.Len(t, pub.snapshots, 1)
		assert.Equal(t, accounts, pub.snapshots[0])
		assert.Equal(t, 0, logs.FilterMessage("account out of balance").Len())
		assert.Equal(t, 1, logs.FilterMessage("run complete").Len())
	})
}

type fakeSender struct {
	mu       sync.Mutex
	subjects []string
	events   []*messaging.Event
	err      error
}

func (s *fakeSender) Publish(_ context.Context, subject string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	if e, ok := data.(*messaging.Event); ok {
		s.events = append(s.events, e)
	}
	return s.err
}

func TestEventPublisher(t *testing.T) {
	t.Run("should publish rejection events", func(t *testing.T) {
		sender := &fakeSender{}
		runID := uuid.New()
		pub := NewEventPublisher(sender, nil, "ledger", runID)

		err := pub.TransactionRejected(context.Background(),
			ledger.NewWithdrawal(4, 8, amt("1.5")),
			ledger.ErrInsufficientFunds)
		require.NoError(t, err)

		require.Equal(t, []string{"ledger.tx.rejected"}, sender.subjects)
		event := sender.events[0]
		assert.Equal(t, runID, event.RunID)
		data, err := messaging.ParseEventData[messaging.TransactionRejectedEvent](event)
		require.NoError(t, err)
		assert.Equal(t, messaging.TransactionRejectedEvent{
			Type:   "withdrawal",
			Client: 4,
			Tx:     8,
			Amount: "1.5000",
			Reason: "insufficient_funds",
			Error:  "insufficient funds",
		}, *data)
	})

	t.Run("should publish snapshot events", func(t *testing.T) {
		sender := &fakeSender{}
		pub := NewEventPublisher(sender, nil, "ledger", uuid.Nil)

		err := pub.AccountSnapshot(context.Background(), []ledger.Account{
			{Client: 1, Available: amt("1"), Total: amt("1"), Locked: true},
		})
		require.NoError(t, err)

		require.Equal(t, []string{"ledger.accounts.snapshot"}, sender.subjects)
		data, err := messaging.ParseEventData[messaging.AccountSnapshotEvent](sender.events[0])
		require.NoError(t, err)
		assert.Equal(t, []messaging.AccountRecord{
			{Client: 1, Available: "1.0000", Held: "0.0000", Total: "1.0000", Locked: true},
		}, data.Accounts)
	})

	t.Run("should stop sending once the breaker opens", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("broker down")}
		breaker := circuit.NewBreaker(circuit.Config{MaxFailures: 2, Timeout: time.Hour})
		pub := NewEventPublisher(sender, breaker, "ledger", uuid.Nil)

		for i := 0; i < 5; i++ {
			_ = pub.TransactionRejected(context.Background(), ledger.NewDispute(1, ledger.TxID(i)), ledger.ErrUnknownTx)
		}

		assert.Len(t, sender.subjects, 2)
		assert.Equal(t, circuit.StateOpen, breaker.State())
	})
}
