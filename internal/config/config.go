package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/BurntSushi/toml"
)

// stripANSI removes ANSI escape codes from a string
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

type Config struct {
	Worker  WorkerConfig  `toml:"worker"`
	Gateway GatewayConfig `toml:"gateway"`
}

type WorkerConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	SandboxRoot      string `toml:"sandbox_root"`      // root of the file read/write surface
	NatsURL          string `toml:"nats_url"`          // empty = lifecycle events disabled
	RetentionMinutes int    `toml:"retention_minutes"` // how long exited handles stay resumable
	Hardening        bool   `toml:"hardening"`
}

type GatewayConfig struct {
	Host        string       `toml:"host"`
	Port        int          `toml:"port"`
	LongpollMs  int          `toml:"longpoll_ms"`
	TailSize    int          `toml:"tail_size"`
	DefaultCols uint16       `toml:"default_cols"`
	DefaultRows uint16       `toml:"default_rows"`
	RatePerSec  float64      `toml:"rate_per_sec"`
	RateBurst   int          `toml:"rate_burst"`
	Tokens      []TokenEntry `toml:"tokens"`
}

// TokenEntry binds one bearer token to the worker host it may drive.
type TokenEntry struct {
	Token       string `toml:"token"`
	UserID      string `toml:"user_id"`
	WorkspaceID string `toml:"workspace_id"`
	NodeURL     string `toml:"node_url"`
}

func DefaultConfig() *Config {
	sandbox := "/workspace"
	if home, err := os.UserHomeDir(); err == nil {
		if _, statErr := os.Stat(sandbox); statErr != nil {
			sandbox = filepath.Join(home, ".local", "share", "spool", "sandbox")
		}
	}

	return &Config{
		Worker: WorkerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			SandboxRoot:      sandbox,
			RetentionMinutes: 15,
		},
		Gateway: GatewayConfig{
			Host:        "0.0.0.0",
			Port:        8081,
			LongpollMs:  10_000,
			TailSize:    30,
			DefaultCols: 120,
			DefaultRows: 32,
			RatePerSec:  5,
			RateBurst:   10,
		},
	}
}

func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Try system config first
	if _, err := os.Stat("/etc/spool/config.toml"); err == nil {
		if _, err := toml.DecodeFile("/etc/spool/config.toml", cfg); err != nil {
			return nil, err
		}
	}

	// Then user config (overrides system)
	home, err := os.UserHomeDir()
	if err == nil {
		userConfig := filepath.Join(home, ".config", "spool", "config.toml")
		if _, err := os.Stat(userConfig); err == nil {
			if _, err := toml.DecodeFile(userConfig, cfg); err != nil {
				return nil, err
			}
		}
	}

	// Environment variable overrides
	if host := os.Getenv("SPOOL_WORKER_HOST"); host != "" {
		cfg.Worker.Host = host
	}
	if portStr := os.Getenv("SPOOL_WORKER_PORT"); portStr != "" {
		port, err := parsePort(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid SPOOL_WORKER_PORT: %w", err)
		}
		cfg.Worker.Port = port
	}
	if root := os.Getenv("SPOOL_SANDBOX_ROOT"); root != "" {
		cfg.Worker.SandboxRoot = root
	}
	if natsURL := os.Getenv("SPOOL_NATS_URL"); natsURL != "" {
		cfg.Worker.NatsURL = natsURL
	}
	if host := os.Getenv("SPOOL_GATEWAY_HOST"); host != "" {
		cfg.Gateway.Host = host
	}
	if portStr := os.Getenv("SPOOL_GATEWAY_PORT"); portStr != "" {
		port, err := parsePort(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid SPOOL_GATEWAY_PORT: %w", err)
		}
		cfg.Gateway.Port = port
	}
	if ms := os.Getenv("SPOOL_LONGPOLL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			cfg.Gateway.LongpollMs = v
		}
	}
	if size := os.Getenv("SPOOL_TAIL_SIZE"); size != "" {
		if v, err := strconv.Atoi(size); err == nil && v > 0 {
			cfg.Gateway.TailSize = v
		}
	}

	return cfg, nil
}

func parsePort(s string) (int, error) {
	s = stripANSI(s) // Handle ANSI codes from colored shell output
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%q is not a valid port", s)
	}
	return port, nil
}

// ResolveToken returns the entry for a bearer token, if configured.
func (c *Config) ResolveToken(token string) (TokenEntry, bool) {
	for _, entry := range c.Gateway.Tokens {
		if entry.Token == token {
			return entry, true
		}
	}
	return TokenEntry{}, false
}

func (c *Config) EnsureSandboxRoot() error {
	return os.MkdirAll(c.Worker.SandboxRoot, 0755)
}
