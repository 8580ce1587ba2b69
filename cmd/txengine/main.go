package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/terminal-bench/txengine/internal/config"
	"github.com/terminal-bench/txengine/internal/csvio"
	"github.com/terminal-bench/txengine/internal/ledger"
	"github.com/terminal-bench/txengine/internal/logging"
	"github.com/terminal-bench/txengine/internal/processor"
	"github.com/terminal-bench/txengine/internal/server"
	"github.com/terminal-bench/txengine/pkg/circuit"
	"github.com/terminal-bench/txengine/pkg/messaging"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const flushTimeout = 5 * time.Second

func main() {
	os.Exit(start())
}

func start() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	return run(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, lookup config.LookupFunc, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, lookup, stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, config.ErrUsage):
		return exitUsage
	case err != nil:
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return exitFailure
	}

	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return exitFailure
	}
	defer logger.Sync() //nolint:errcheck

	runID := uuid.New()
	logger = logger.With(zap.String("run_id", runID.String()))

	if err := process(ctx, cfg, runID, logger, stdout); err != nil {
		logger.Error("run failed", zap.Error(err))
		return exitFailure
	}
	return exitOK
}

func process(ctx context.Context, cfg *config.Config, runID uuid.UUID, logger *zap.Logger, stdout io.Writer) error {
	file, err := os.Open(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	opts := []processor.Option{
		processor.WithFailFast(cfg.FailFast),
		processor.WithBuffer(cfg.Buffer),
	}
	if cfg.NATS.URL != "" {
		client, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATS.URL,
			Name:           cfg.NATS.Name,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		})
		if err != nil {
			return err
		}
		defer closeConnection(ctx, client, logger)

		breaker := circuit.NewBreaker(circuit.Config{
			Name:        "nats-publisher",
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
			OnStateChange: func(name string, from, to circuit.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
		publisher := processor.NewEventPublisher(client, breaker, cfg.NATS.SubjectPrefix, runID)
		opts = append(opts, processor.WithPublisher(publisher))
		logger.Info("publishing ledger events", zap.String("nats_url", cfg.NATS.URL))
	}

	engine := ledger.NewEngine()
	proc := processor.New(engine, logger, opts...)

	summary, err := proc.Run(ctx, csvio.NewReader(bufio.NewReader(file)))
	if err != nil {
		return err
	}
	accounts := proc.Finish(ctx)

	if err := csvio.WriteAccounts(stdout, engine.Accounts()); err != nil {
		return fmt.Errorf("failed to write accounts: %w", err)
	}

	if cfg.ServeAddr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	return server.New(accounts, summary, logger).Run(ctx, cfg.ServeAddr)
}

type connection interface {
	Flush(ctx context.Context) error
	Reconnects() int
	Drain() error
}

// closeConnection flushes published events and drains conn. The flush gets its
// own deadline so events still go out after an interrupt.
func closeConnection(ctx context.Context, conn connection, logger *zap.Logger) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	if err := conn.Flush(flushCtx); err != nil {
		logger.Warn("failed to flush NATS connection", zap.Error(err))
	}
	if err := conn.Drain(); err != nil {
		logger.Warn("failed to drain NATS connection", zap.Error(err))
	}
	logger.Info("NATS connection closed", zap.Int("reconnects", conn.Reconnects()))
}
