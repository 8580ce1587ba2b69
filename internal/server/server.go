package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/txengine/internal/ledger"
	"github.com/terminal-bench/txengine/internal/processor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Server exposes a finished run's account snapshot over HTTP. The snapshot
// is immutable, so handlers need no locking.
type Server struct {
	router   *gin.Engine
	logger   *zap.Logger
	accounts []ledger.Account
	index    map[ledger.Client]int
	summary  processor.Summary
}

// New creates a snapshot server. accounts must be in client order.
func New(accounts []ledger.Account, summary processor.Summary, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:   gin.New(),
		logger:   logger,
		accounts: accounts,
		index:    make(map[ledger.Client]int, len(accounts)),
		summary:  summary,
	}
	for i, acct := range accounts {
		s.index[acct.Client] = i
	}

	s.router.Use(gin.Recovery(), s.requestLogger())
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	v1.GET("/accounts", s.listAccounts)
	v1.GET("/accounts/:client", s.getAccount)
	v1.GET("/summary", s.getSummary)

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving account snapshot", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.accounts})
}

func (s *Server) getAccount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("client"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return
	}

	i, ok := s.index[ledger.Client(id)]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, s.accounts[i])
}

func (s *Server) getSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.summary)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
