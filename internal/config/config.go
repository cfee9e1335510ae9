package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/wavefront/internal/database"
	"github.com/lawnchairsociety/wavefront/internal/wfc"
)

// ServerConfig holds wfcd settings.
type ServerConfig struct {
	Listen      ListenConfig      `yaml:"listen"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Connections ConnectionsConfig `yaml:"connections"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Solver      SolverConfig      `yaml:"solver"`
	Database    database.Config   `yaml:"database"`
}

// ListenConfig holds the HTTP listener settings.
type ListenConfig struct {
	// Address is host:port for the HTTP server (websocket, health, registry API).
	Address string `yaml:"address"`
}

// ConnectionsConfig holds connection limit settings.
type ConnectionsConfig struct {
	// MaxPerIP is the maximum concurrent connections from a single IP address.
	// 0 means unlimited.
	MaxPerIP int `yaml:"max_per_ip"`

	// MaxTotal is the maximum total concurrent connections. 0 means unlimited.
	MaxTotal int `yaml:"max_total"`
}

// RateLimitConfig bounds how many rejected construct payloads an IP may send
// before it is locked out.
type RateLimitConfig struct {
	MaxFailures       int `yaml:"max_failures"`
	LockoutSeconds    int `yaml:"lockout_seconds"`
	MaxLockoutSeconds int `yaml:"max_lockout_seconds"`
}

// SolverConfig holds per-session solver limits.
type SolverConfig struct {
	// DefaultSeed is used when a construct payload has no seed.
	DefaultSeed uint32 `yaml:"default_seed"`

	// MaxStepsPerRequest caps the count of a single step request.
	MaxStepsPerRequest int `yaml:"max_steps_per_request"`
}

// WebSocketConfig holds WebSocket-specific settings.
type WebSocketConfig struct {
	// AllowedOrigins lists origins allowed to connect. An empty list enforces
	// same-origin; "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize is the maximum inbound message size in bytes. Construct
	// payloads carry the whole rule table, so this is larger than a chat server needs.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// DefaultConfig returns a ServerConfig with secure defaults.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Listen: ListenConfig{
			Address: ":4480",
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: []string{},
			MaxMessageSize: 1 << 20,
		},
		Connections: ConnectionsConfig{
			MaxPerIP: 8,
			MaxTotal: 256,
		},
		RateLimit: RateLimitConfig{
			MaxFailures:       10,
			LockoutSeconds:    30,
			MaxLockoutSeconds: 300,
		},
		Solver: SolverConfig{
			DefaultSeed:        wfc.DefaultSeed,
			MaxStepsPerRequest: 1000,
		},
		Database: database.DefaultConfig("data/wfcd.db"),
	}
}

// LoadConfig loads server configuration from a YAML file over the defaults.
// A missing file yields the defaults.
func LoadConfig(path string) (*ServerConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("invalid %s: %w", path, err)
	}

	return config, nil
}

// Validate rejects settings the server cannot run with.
func (c *ServerConfig) Validate() error {
	if c.Listen.Address == "" {
		return errors.New("listen.address is empty")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket.max_message_size must be positive, got %d", c.WebSocket.MaxMessageSize)
	}
	if c.Solver.MaxStepsPerRequest <= 0 {
		return fmt.Errorf("solver.max_steps_per_request must be positive, got %d", c.Solver.MaxStepsPerRequest)
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not sqlite or postgres", c.Database.Driver)
	}
	return nil
}

// IsOriginAllowed checks the Origin header of a websocket upgrade. It allows
// any origin when AllowedOrigins contains "*", exact matches otherwise, and
// falls back to same-origin when the list is empty.
func (c *WebSocketConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// isSameOrigin reports whether origin names requestHost. A missing Origin
// header comes from a non-browser client and is allowed.
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true
	}

	u, err := url.Parse(strings.TrimSuffix(origin, "/"))
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, requestHost)
}
