package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/terminal-bench/txengine/internal/logging"
)

// ErrUsage marks invalid command-line usage.
var ErrUsage = errors.New("usage")

// Config holds the runtime configuration of a single run
type Config struct {
	InputPath string
	Log       logging.Config
	FailFast  bool
	Buffer    int
	ServeAddr string // empty disables the snapshot API
	NATS      NATSConfig
	Breaker   BreakerConfig
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// BreakerConfig configures the circuit breaker in front of the publisher
type BreakerConfig struct {
	MaxFailures int
	Timeout     time.Duration
}

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given files (default ".env") into the
// process environment without overriding what is already set. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from the environment, overridden by command-line flags.
func Load(args []string, lookup LookupFunc, output io.Writer) (*Config, error) {
	env := envReader{lookup: lookup}

	cfg := &Config{
		Log: logging.Config{
			Level:  env.get("TXENGINE_LOG_LEVEL", "info"),
			Format: env.get("TXENGINE_LOG_FORMAT", "json"),
		},
		FailFast:  env.getBool("TXENGINE_FAIL_FAST", false),
		Buffer:    env.getInt("TXENGINE_BUFFER", 64),
		ServeAddr: env.get("TXENGINE_SERVE_ADDR", ""),
		NATS: NATSConfig{
			URL:            env.get("NATS_URL", ""),
			Name:           env.get("NATS_CLIENT_NAME", "txengine"),
			SubjectPrefix:  env.get("NATS_SUBJECT_PREFIX", "txengine"),
			ReconnectWait:  env.getDuration("NATS_RECONNECT_WAIT", time.Second),
			MaxReconnects:  env.getInt("NATS_MAX_RECONNECTS", 5),
			ConnectTimeout: env.getDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures: env.getInt("PUBLISH_MAX_FAILURES", 3),
			Timeout:     env.getDuration("PUBLISH_BREAKER_TIMEOUT", 10*time.Second),
		},
	}
	if len(env.errs) > 0 {
		return nil, errors.Join(env.errs...)
	}

	flags := flag.NewFlagSet("txengine", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: txengine [flags] <transactions.csv>\n\n")
		flags.PrintDefaults()
	}
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format (json, console)")
	flags.BoolVar(&cfg.FailFast, "fail-fast", cfg.FailFast, "stop at the first rejected or malformed transaction")
	flags.IntVar(&cfg.Buffer, "buffer", cfg.Buffer, "decoded transactions buffered ahead of the engine")
	flags.StringVar(&cfg.ServeAddr, "serve", cfg.ServeAddr, "serve the final snapshot over HTTP on this address")
	flags.StringVar(&cfg.NATS.URL, "nats-url", cfg.NATS.URL, "publish ledger events to this NATS server")
	flags.StringVar(&cfg.NATS.SubjectPrefix, "nats-subject-prefix", cfg.NATS.SubjectPrefix, "subject prefix for published events")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return nil, fmt.Errorf("%w: expected exactly one input file, got %d", ErrUsage, flags.NArg())
	}
	cfg.InputPath = flags.Arg(0)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Buffer < 0 {
		return fmt.Errorf("buffer must not be negative, got %d", c.Buffer)
	}
	if c.Breaker.MaxFailures < 1 {
		return fmt.Errorf("publish max failures must be at least 1, got %d", c.Breaker.MaxFailures)
	}
	if c.NATS.URL != "" && strings.TrimSpace(c.NATS.SubjectPrefix) == "" {
		return errors.New("nats subject prefix must not be empty")
	}
	return nil
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (r *envReader) get(key, fallback string) string {
	if r.lookup == nil {
		return fallback
	}
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (r *envReader) getInt(key string, fallback int) int {
	raw := r.get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (r *envReader) getBool(key string, fallback bool) bool {
	raw := r.get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (r *envReader) getDuration(key string, fallback time.Duration) time.Duration {
	raw := r.get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
