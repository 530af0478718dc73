package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings ("90s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config aggregates application configuration values.
type Config struct {
	Client  ClientConfig  `toml:"client"`
	Session SessionConfig `toml:"session"`
	Payment PaymentConfig `toml:"payment"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Logging LoggingConfig `toml:"logging"`
	Bankd   BankdConfig   `toml:"bankd"`
}

// ClientConfig identifies the backend endpoints and the local user.
type ClientConfig struct {
	BackendURL string `toml:"backend_url"`
	StreamURL  string `toml:"stream_url"`
	Identity   string `toml:"identity"`
	AccountID  string `toml:"account_id"`
	Currency   string `toml:"currency"`
}

// SessionConfig governs the event-stream connection.
type SessionConfig struct {
	DialTimeout Duration `toml:"dial_timeout"`
	BackoffMin  Duration `toml:"backoff_min"`
	BackoffMax  Duration `toml:"backoff_max"`
}

// PaymentConfig governs the payment orchestrator.
type PaymentConfig struct {
	OtpWait Duration `toml:"otp_wait"`
}

// LedgerConfig controls local ledger persistence. An empty StateDir keeps
// the applied-commit set in memory only.
type LedgerConfig struct {
	StateDir string `toml:"state_dir"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text|json
}

// BankdConfig governs the backend simulator daemon.
type BankdConfig struct {
	Listen           string   `toml:"listen"`
	DBSource         string   `toml:"db_source"` // empty = in-memory store
	OtpDelay         Duration `toml:"otp_delay"`
	OtpTTL           Duration `toml:"otp_ttl"`
	SeedBalanceMinor int64    `toml:"seed_balance_minor"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Client: ClientConfig{
			BackendURL: "http://localhost:8080",
			StreamURL:  "ws://localhost:8080/stream",
			Currency:   "MAD",
		},
		Session: SessionConfig{
			DialTimeout: Duration{10 * time.Second},
			BackoffMin:  Duration{1 * time.Second},
			BackoffMax:  Duration{5 * time.Second},
		},
		Payment: PaymentConfig{
			OtpWait: Duration{90 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Bankd: BankdConfig{
			Listen:           ":8080",
			OtpDelay:         Duration{500 * time.Millisecond},
			OtpTTL:           Duration{5 * time.Minute},
			SeedBalanceMinor: 100000, // 1000.00
		},
	}
}

// Load reads the TOML file at path (optional) and applies environment
// variable overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s not found", path)
			}
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAYSTREAM_BACKEND_URL"); v != "" {
		cfg.Client.BackendURL = v
	}
	if v := os.Getenv("PAYSTREAM_STREAM_URL"); v != "" {
		cfg.Client.StreamURL = v
	}
	if v := os.Getenv("PAYSTREAM_IDENTITY"); v != "" {
		cfg.Client.Identity = v
	}
	if v := os.Getenv("PAYSTREAM_ACCOUNT_ID"); v != "" {
		cfg.Client.AccountID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DB_SOURCE"); v != "" {
		cfg.Bankd.DBSource = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Bankd.Listen = ":" + v
	}
}
