package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/terminal-bench/txengine/internal/csvio"
	"github.com/terminal-bench/txengine/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source yields transactions in arrival order. It returns io.EOF at the end
// of input and a *csvio.RecordError for a record that should be skipped.
type Source interface {
	Next() (ledger.Transaction, error)
}

// Publisher receives ledger events. Publishing is best effort: errors are
// logged and never affect the run.
type Publisher interface {
	TransactionRejected(ctx context.Context, tx ledger.Transaction, reason error) error
	AccountSnapshot(ctx context.Context, accounts []ledger.Account) error
}

// Summary counts what happened during a run
type Summary struct {
	Processed int            `json:"processed"`
	Applied   int            `json:"applied"`
	Rejected  int            `json:"rejected"`
	Skipped   int            `json:"skipped"`
	ByReason  map[string]int `json:"by_reason"`
}

// Processor feeds a transaction source into a ledger engine
type Processor struct {
	engine    *ledger.Engine
	logger    *zap.Logger
	publisher Publisher
	failFast  bool
	buffer    int

	summary Summary
}

// Option configures a Processor
type Option func(*Processor)

// WithPublisher sends rejection and snapshot events to pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithFailFast makes Run stop at the first malformed or rejected transaction.
func WithFailFast(enabled bool) Option {
	return func(p *Processor) { p.failFast = enabled }
}

// WithBuffer sets how many decoded transactions may queue ahead of the engine.
func WithBuffer(n int) Option {
	return func(p *Processor) {
		if n >= 0 {
			p.buffer = n
		}
	}
}

// New creates a processor for engine
func New(engine *ledger.Engine, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		engine:  engine,
		logger:  logger,
		buffer:  64,
		summary: Summary{ByReason: make(map[string]int)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type item struct {
	tx  ledger.Transaction
	err error
}

// Run reads src to the end, applying every transaction in order. Decoding
// runs ahead of application in its own goroutine; a single channel keeps the
// input order. Run returns early only on an input failure, context
// cancellation, or, with fail-fast, the first bad transaction.
func (p *Processor) Run(ctx context.Context, src Source) (Summary, error) {
	items := make(chan item, p.buffer)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(items)
		for {
			tx, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			var recErr *csvio.RecordError
			if err != nil && !errors.As(err, &recErr) {
				return fmt.Errorf("failed to read transactions: %w", err)
			}

			select {
			case items <- item{tx: tx, err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for it := range items {
			if err := p.handle(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	return p.Summary(), err
}

func (p *Processor) handle(ctx context.Context, it item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.summary.Processed++

	if it.err != nil {
		p.summary.Skipped++
		p.logger.Warn("skipping malformed record", zap.Error(it.err))
		if p.failFast {
			return it.err
		}
		return nil
	}

	tx := it.tx
	err := p.engine.Apply(tx)
	if err == nil {
		p.summary.Applied++
		p.logger.Debug("transaction applied", txFields(tx)...)
		return nil
	}

	p.summary.Rejected++
	reason := ledger.Reason(err)
	p.summary.ByReason[reason]++

	fields := append(txFields(tx), zap.String("reason", reason), zap.Error(err))
	if ledger.IsConsistencyFault(err) {
		p.logger.Error("ledger consistency fault", fields...)
	} else {
		p.logger.Warn("transaction rejected", fields...)
	}

	if p.publisher != nil {
		if pubErr := p.publisher.TransactionRejected(ctx, tx, err); pubErr != nil {
			p.logger.Debug("failed to publish rejection", zap.Error(pubErr))
		}
	}

	if p.failFast {
		return err
	}
	return nil
}

// Finish takes the final snapshot, checks every account balances and
// publishes the snapshot. Call it after Run returns.
func (p *Processor) Finish(ctx context.Context) []ledger.Account {
	accounts := p.engine.Snapshot()

	for _, acct := range accounts {
		if !acct.Balanced() {
			p.logger.Error("account out of balance",
				zap.Uint16("client", uint16(acct.Client)),
				zap.Stringer("available", acct.Available),
				zap.Stringer("held", acct.Held),
				zap.Stringer("total", acct.Total),
			)
		}
	}

	if p.publisher != nil {
		if err := p.publisher.AccountSnapshot(ctx, accounts); err != nil {
			p.logger.Warn("failed to publish account snapshot", zap.Error(err))
		}
	}

	p.logger.Info("run complete",
		zap.Int("accounts", len(accounts)),
		zap.Int("processed", p.summary.Processed),
		zap.Int("applied", p.summary.Applied),
		zap.Int("rejected", p.summary.Rejected),
		zap.Int("skipped", p.summary.Skipped),
	)
	return accounts
}

// Summary returns a copy of the counters collected so far.
func (p *Processor) Summary() Summary {
	s := p.summary
	s.ByReason = maps.Clone(p.summary.ByReason)
	return s
}

func txFields(tx ledger.Transaction) []zap.Field {
	fields := []zap.Field{
		zap.Stringer("type", tx.Type),
		zap.Uint16("client", uint16(tx.Client)),
		zap.Uint32("tx", uint32(tx.TxID)),
	}
	if tx.Type.CarriesAmount() {
		fields = append(fields, zap.Stringer("amount", tx.Amount))
	}
	return fields
}
