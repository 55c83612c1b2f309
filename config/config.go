// Package config loads the relay's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/jonwraymond/toolrelay/backend"
	"github.com/jonwraymond/toolrelay/backend/bus"
	"github.com/jonwraymond/toolrelay/gateway"
	"github.com/jonwraymond/toolrelay/supervisor"
	"gopkg.in/yaml.v3"
)

// Bus kinds.
const (
	BusNone   = ""
	BusMemory = "memory"
	BusSQS    = "sqs"
)

// Config holds relay configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Reconnect ReconnectConfig   `yaml:"reconnect"`
	Breaker   BreakerConfig     `yaml:"breaker"`
	Call      CallConfig        `yaml:"call"`
	RateLimit gateway.RateLimit `yaml:"rate_limit"`

	// CriticalPatterns extend the built-in error signatures that
	// permanently disable a server.
	CriticalPatterns []string `yaml:"critical_patterns"`

	Bus BusConfig `yaml:"bus"`

	// Servers are registered in order; a later server wins a tool name
	// collision.
	Servers []ServerConfig `yaml:"servers"`
}

// ReconnectConfig bounds automatic reconnects.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// CallConfig bounds individual calls.
type CallConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	Retries        int           `yaml:"retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// BusConfig selects the message bus for bus-transport servers.
type BusConfig struct {
	// Kind is memory, sqs, or empty for no bus.
	Kind string `yaml:"kind"`

	// Region is the AWS region for the sqs bus. Empty uses the SDK's
	// default resolution.
	Region string `yaml:"region,omitempty"`
}

// ServerConfig describes one backend server.
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Dir       string            `yaml:"dir,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`

	// RequestQueue and ResponseQueue are the bus topics for the bus
	// transport.
	RequestQueue  string `yaml:"request_queue,omitempty"`
	ResponseQueue string `yaml:"response_queue,omitempty"`

	// Prefixes route every tool name starting with one of them to this
	// server, even before its tools are listed.
	Prefixes []string `yaml:"prefixes,omitempty"`
}

// Default returns the reference configuration with no servers.
func Default() *Config {
	d := supervisor.DefaultOptions()
	return &Config{
		LogLevel: "info",
		Reconnect: ReconnectConfig{
			BaseDelay:   d.ReconnectBaseDelay,
			MaxDelay:    d.ReconnectMaxDelay,
			MaxAttempts: d.MaxReconnectAttempts,
		},
		Breaker: BreakerConfig{
			Threshold: d.BreakerThreshold,
			Cooldown:  d.BreakerCooldown,
		},
		Call: CallConfig{
			Timeout:    d.CallTimeout,
			Retries:    d.Retries,
			RetryDelay: d.RetryDelay,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	switch {
	case c.Reconnect.BaseDelay < 0, c.Reconnect.MaxDelay < 0:
		return errors.New("reconnect delays must not be negative")
	case c.Reconnect.MaxDelay > 0 && c.Reconnect.MaxDelay < c.Reconnect.BaseDelay:
		return errors.New("reconnect.max_delay must not be below reconnect.base_delay")
	case c.Reconnect.MaxAttempts < 0:
		return errors.New("reconnect.max_attempts must not be negative")
	case c.Breaker.Threshold < 1:
		return errors.New("breaker.threshold must be at least 1")
	case c.Breaker.Cooldown < 0:
		return errors.New("breaker.cooldown must not be negative")
	case c.Call.Timeout < 0, c.Call.ConnectTimeout < 0, c.Call.RetryDelay < 0:
		return errors.New("call durations must not be negative")
	case c.Call.Retries < 0:
		return errors.New("call.retries must not be negative")
	case c.RateLimit.PerSecond < 0, c.RateLimit.Burst < 0, c.RateLimit.MaxConcurrent < 0, c.RateLimit.IdleTTL < 0:
		return errors.New("rate_limit values must not be negative")
	}

	switch c.Bus.Kind {
	case BusNone, BusMemory, BusSQS:
	default:
		return fmt.Errorf("invalid bus kind %q, must be: memory or sqs", c.Bus.Kind)
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		d := s.Descriptor()
		if err := d.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d]: duplicate server name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Transport == bus.Kind && c.Bus.Kind == BusNone {
			return fmt.Errorf("servers[%d]: server %q uses the bus transport but no bus is configured", i, s.Name)
		}
	}
	return nil
}

// SlogLevel parses LogLevel. Empty means info.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(c.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// SupervisorOptions converts the tunables into supervisor options.
func (c *Config) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		ReconnectBaseDelay:   c.Reconnect.BaseDelay,
		ReconnectMaxDelay:    c.Reconnect.MaxDelay,
		MaxReconnectAttempts: c.Reconnect.MaxAttempts,
		BreakerThreshold:     c.Breaker.Threshold,
		BreakerCooldown:      c.Breaker.Cooldown,
		CallTimeout:          c.Call.Timeout,
		ConnectTimeout:       c.Call.ConnectTimeout,
		Retries:              c.Call.Retries,
		RetryDelay:           c.Call.RetryDelay,
		CriticalPatterns:     append([]string(nil), c.CriticalPatterns...),
	}
}

// Descriptors returns the server descriptors in configuration order.
func (c *Config) Descriptors() []backend.Descriptor {
	out := make([]backend.Descriptor, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, s.Descriptor())
	}
	return out
}

// Descriptor converts the server entry into a backend descriptor.
// ${VAR} references in env values are expanded from the process
// environment.
func (s ServerConfig) Descriptor() backend.Descriptor {
	var env map[string]string
	if len(s.Env) > 0 {
		env = maps.Clone(s.Env)
		for k, v := range env {
			env[k] = os.ExpandEnv(v)
		}
	}
	return backend.Descriptor{
		Name:          s.Name,
		Transport:     s.Transport,
		Command:       s.Command,
		Args:          append([]string(nil), s.Args...),
		Dir:           s.Dir,
		Env:           env,
		RequestTopic:  s.RequestQueue,
		ResponseTopic: s.ResponseQueue,
		Prefixes:      append([]string(nil), s.Prefixes...),
	}
}
