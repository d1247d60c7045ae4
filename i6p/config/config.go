// Package config loads settings for the transfer tools. Values come from the
// defaults, then an optional YAML file, then I6P_* environment variables;
// command line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/TheusHen/i6p-transfer/i6p/identity"
	"github.com/TheusHen/i6p-transfer/i6p/transfer"
	"github.com/TheusHen/i6p-transfer/i6p/transport/quic"
)

// EnvPrefix starts every environment variable this package reads.
const EnvPrefix = "I6P_"

var ErrInvalidSize = errors.New("config: invalid size")

type Config struct {
	LogLevel string `yaml:"log_level"`
	// SecretKey is a hex Ed25519 seed. Empty means a fresh key per run.
	SecretKey    string        `yaml:"secret_key"`
	BindAddr     string        `yaml:"bind_addr"`
	RelayURL     string        `yaml:"relay_url"`
	NoRelay      bool          `yaml:"no_relay"`
	Size         string        `yaml:"size"`
	ReadMode     string        `yaml:"read_mode"`
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

func Default() Config {
	return Config{
		LogLevel:     "info",
		BindAddr:     quic.DefaultBindAddr,
		Size:         "1G",
		ReadMode:     transfer.Ordered.String(),
		CloseTimeout: 3 * time.Second,
	}
}

// Load reads path over the defaults and then applies the environment. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from I6P_LOG_LEVEL, I6P_SECRET_KEY,
// I6P_BIND_ADDR, I6P_RELAY_URL, I6P_NO_RELAY, I6P_SIZE, I6P_READ_MODE and
// I6P_CLOSE_TIMEOUT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("SECRET_KEY", &c.SecretKey)
	str("BIND_ADDR", &c.BindAddr)
	str("RELAY_URL", &c.RelayURL)
	str("SIZE", &c.Size)
	str("READ_MODE", &c.ReadMode)

	if v, ok := lookup(EnvPrefix + "NO_RELAY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sNO_RELAY: %w", EnvPrefix, err)
		}
		c.NoRelay = b
	}
	if v, ok := lookup(EnvPrefix + "CLOSE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sCLOSE_TIMEOUT: %w", EnvPrefix, err)
		}
		c.CloseTimeout = d
	}
	return nil
}

// ParseSize reads a human size with binary multiples: "1G" and "1GiB" are
// both 1<<30 bytes, a bare number is bytes.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSize)
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}
	// RAMInBytes converts to int64 without a range check; overflow lands on
	// one of the extremes depending on the platform.
	if n < 0 || n == math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidSize, s)
	}
	return uint64(n), nil
}

func (c Config) PayloadSize() (uint64, error) { return ParseSize(c.Size) }

func (c Config) Mode() (transfer.ReadMode, error) { return transfer.ParseReadMode(c.ReadMode) }

// Relay resolves the relay settings. NoRelay wins over RelayURL.
func (c Config) Relay() (quic.RelayMode, error) {
	switch {
	case c.NoRelay:
		return quic.RelayDisabled, nil
	case c.RelayURL != "":
		return quic.RelayCustom(c.RelayURL)
	default:
		return quic.RelayDefault, nil
	}
}

// Key returns the configured secret key, or a new one when none is set.
func (c Config) Key() (identity.SecretKey, error) {
	if c.SecretKey == "" {
		return identity.GenerateSecretKey()
	}
	return identity.ParseSecretKeyHex(c.SecretKey)
}

// Validate checks every field that can be checked without side effects.
func (c Config) Validate() error {
	if _, err := c.PayloadSize(); err != nil {
		return err
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := c.Relay(); err != nil {
		return err
	}
	if c.SecretKey != "" {
		if _, err := c.Key(); err != nil {
			return err
		}
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("config: close timeout must be positive, got %s", c.CloseTimeout)
	}
	return nil
}
