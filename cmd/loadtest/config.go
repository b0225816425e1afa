package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend string `yaml:"backend"`
	// Streams is the number of distinct streams written to.
	Streams int `yaml:"streams"`
	// Writers is the number of concurrent writers. Writers sharing a
	// stream append with expected version Any.
	Writers int `yaml:"writers"`
	// Batches is the number of appends per writer.
	Batches   int `yaml:"batches"`
	BatchSize int `yaml:"batch_size"`
	// Rate limits appends per second across all writers. Zero is unlimited.
	Rate float64 `yaml:"rate"`
	// Replay is the share of appends that resubmit the previous batch.
	Replay   float64       `yaml:"replay"`
	Timeout  time.Duration `yaml:"timeout"`
	LogLevel string        `yaml:"log_level"`
	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
	// TraceFile receives sampled commit spans as JSON lines.
	TraceFile   string  `yaml:"trace_file"`
	TraceSample float64 `yaml:"trace_sample"`

	Badger struct {
		Path string `yaml:"path"`
	} `yaml:"badger"`
	SQL struct {
		Dialect string `yaml:"dialect"`
		DSN     string `yaml:"dsn"`
		Table   string `yaml:"table"`
	} `yaml:"sql"`
	NATS struct {
		URL    string `yaml:"url"`
		Memory bool   `yaml:"memory"`
	} `yaml:"nats"`
}

func DefaultConfig() Config {
	cfg := Config{
		Backend:   "mem",
		Streams:   100,
		Writers:   8,
		Batches:   1_000,
		BatchSize: 4,
		Timeout:   2 * time.Minute,
		LogLevel:  "info",

		TraceSample: 0.01,
	}
	cfg.SQL.Dialect = "sqlite"
	cfg.SQL.DSN = "file:loadtest.db?_journal_mode=WAL&_busy_timeout=5000"
	return cfg
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case "mem", "badger", "sql", "nats":
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Streams <= 0 {
		errs = append(errs, errors.New("streams must be positive"))
	}
	if c.Writers <= 0 {
		errs = append(errs, errors.New("writers must be positive"))
	}
	if c.Batches <= 0 {
		errs = append(errs, errors.New("batches must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}
	if c.Rate < 0 {
		errs = append(errs, errors.New("rate must not be negative"))
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, errors.New("trace_sample must be within [0, 1]"))
	}
	if c.Replay < 0 || c.Replay > 1 {
		errs = append(errs, errors.New("replay must be within [0, 1]"))
	}
	return errors.Join(errs...)
}
