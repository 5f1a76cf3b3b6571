package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"guardian/crypto"
)

// Config describes one engine deployment. Owner, broadcaster, and recovery
// are bech32-encoded identities installed into the protected roles at
// initialization.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	NetworkName     string `toml:"NetworkName"`
	ChainID         uint64 `toml:"ChainID"`
	EngineAddress   string `toml:"EngineAddress"`
	TimelockSeconds uint64 `toml:"TimelockSeconds"`
	Owner           string `toml:"Owner"`
	Broadcaster     string `toml:"Broadcaster"`
	Recovery        string `toml:"Recovery"`
	LogFile         string `toml:"LogFile"`

	RPC       RPCConfig       `toml:"RPC"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
}

// RPCConfig holds the optional protections of the read API.
type RPCConfig struct {
	AuthEnabled        bool    `toml:"AuthEnabled"`
	AuthSecret         string  `toml:"AuthSecret"`
	AuthIssuer         string  `toml:"AuthIssuer"`
	AuthAudience       string  `toml:"AuthAudience"`
	RateLimitEnabled   bool    `toml:"RateLimitEnabled"`
	RateLimitPerMinute float64 `toml:"RateLimitPerMinute"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// TelemetryConfig wires OTLP exporters for traces and metrics.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "guardian-local"
	}
	if cfg.TimelockSeconds == 0 {
		cfg.TimelockSeconds = 3600
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the identity fields decode to well-formed addresses.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be positive")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Owner", c.Owner},
		{"Broadcaster", c.Broadcaster},
		{"Recovery", c.Recovery},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("config: %s must not be empty", field.name)
		}
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("config: invalid %s address: %w", field.name, err)
		}
	}
	if strings.TrimSpace(c.EngineAddress) != "" {
		if _, err := crypto.DecodeAddress(c.EngineAddress); err != nil {
			return fmt.Errorf("config: invalid EngineAddress: %w", err)
		}
	}
	if c.RPC.AuthEnabled && strings.TrimSpace(c.RPC.AuthSecret) == "" {
		return fmt.Errorf("config: RPC.AuthSecret must be set when RPC.AuthEnabled is true")
	}
	return nil
}

// Identity decodes one of the configured bech32 identities into its raw
// 20-byte form.
func Identity(encoded string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:   "0.0.0.0:8751",
		DataDir:         "./guardian-data",
		NetworkName:     "guardian-local",
		ChainID:         187101,
		TimelockSeconds: 3600,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, fmt.Errorf("config: wrote default config to %s; fill in Owner, Broadcaster, and Recovery before starting", path)
}
