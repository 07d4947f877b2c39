// ABOUTME: Client configuration for the jobchat terminal client
// ABOUTME: TOML file with ${VAR} expansion; selects transport, identity and send behaviour

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/jobchat/internal/store"
)

// ClientConfig configures cmd/jobchat.
type ClientConfig struct {
	// Transport is "grpc" (default) or "http".
	Transport string `toml:"transport"`
	GRPCAddr  string `toml:"grpc_addr"`
	HTTPURL   string `toml:"http_url"`
	Token     string `toml:"token"`
	// Insecure dials gRPC without TLS.
	Insecure  bool   `toml:"insecure"`

	ParticipantID string     `toml:"participant_id"`
	Role          store.Role `toml:"role"`

	// Match is "correlation" (default) or "content".
	Match string `toml:"match"`

	SendTimeout    time.Duration `toml:"-"`
	SendTimeoutRaw string        `toml:"send_timeout"`

	LogLevel string `toml:"log_level"`
}

// LoadClient reads a TOML client config from path.
func LoadClient(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}
	return ParseClient(data)
}

// ParseClient parses TOML client config data.
func ParseClient(data []byte) (*ClientConfig, error) {
	var cfg ClientConfig
	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if cfg.SendTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.SendTimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing send_timeout %q: %w", cfg.SendTimeoutRaw, err)
		}
		cfg.SendTimeout = d
	}

	if cfg.Transport == "" {
		cfg.Transport = "grpc"
	}
	if cfg.Match == "" {
		cfg.Match = "correlation"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the client config.
func (c *ClientConfig) Validate() error {
	switch c.Transport {
	case "grpc":
		if c.GRPCAddr == "" {
			return fmt.Errorf("grpc_addr is required for the grpc transport")
		}
	case "http":
		if c.HTTPURL == "" {
			return fmt.Errorf("http_url is required for the http transport")
		}
	default:
		return fmt.Errorf("transport must be grpc or http, got %q", c.Transport)
	}
	if c.ParticipantID == "" {
		return fmt.Errorf("participant_id is required")
	}
	if !c.Role.Valid() {
		return fmt.Errorf("role must be OWNER or WORKER, got %q", c.Role)
	}
	if c.Match != "correlation" && c.Match != "content" {
		return fmt.Errorf("match must be correlation or content, got %q", c.Match)
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("send_timeout must not be negative")
	}
	return nil
}

// DefaultClientPath returns $XDG_CONFIG_HOME/jobchat/client.toml.
func DefaultClientPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "client.toml"
	}
	return filepath.Join(dir, "jobchat", "client.toml")
}
