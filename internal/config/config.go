package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	LeaseFile   = "file"
	LeaseMemory = "memory"
)

type Config struct {
	Sandbox     SandboxConfig     `json:"sandbox"`
	Interpreter InterpreterConfig `json:"interpreter"`
	Shell       string            `json:"shell"`
	Timezone    string            `json:"timezone"`
	Store       StoreConfig       `json:"store"`
	Lease       LeaseConfig       `json:"lease"`
	Ledger      LedgerConfig      `json:"ledger"`
	Server      ServerConfig      `json:"server"`
	Slack       SlackConfig       `json:"slack"`
	LogLevel    string            `json:"log_level"`
}

type SandboxConfig struct {
	WebRoot string `json:"web_root"`
}

type InterpreterConfig struct {
	Name   string `json:"name"`
	Binary string `json:"binary"`
}

type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	// Path is the YAML jobs file used by the file driver
	Path string `json:"path"`
}

type LeaseConfig struct {
	Backend string `json:"backend"`
	Dir     string `json:"dir"`
	TTL     string `json:"ttl"`
}

type LedgerConfig struct {
	MarkSkipped    bool `json:"mark_skipped"`
	QuietNotDue    bool `json:"quiet_not_due"`
	MaxOutputBytes int  `json:"max_output_bytes"`
}

type ServerConfig struct {
	// Host is the bind address; jobs and their output are not public
	Host         string `json:"host"`
	Port         string `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// Load reads the JSON config at configPath. When the file does not exist the
// configuration comes from the environment, after .env or .env.local.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		loadDotEnv()
		cfg := FromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "No .env or .env.local file found. Using environment variables.\n")
		}
	}
}

func DefaultConfig() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			WebRoot: "/var/www",
		},
		Interpreter: InterpreterConfig{
			Name: "php",
		},
		Shell: "/bin/sh",
		Store: StoreConfig{
			Driver: StoreFile,
			Path:   "config/jobs.yaml",
		},
		Lease: LeaseConfig{
			Backend: LeaseFile,
			Dir:     "/run/panelcron",
			TTL:     "10m",
		},
		Ledger: LedgerConfig{
			MaxOutputBytes: 16 * 1024,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         "8080",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
		},
		LogLevel: "info",
	}
}

// FromEnv builds a configuration from environment variables over the defaults
func FromEnv() *Config {
	cfg := DefaultConfig()

	cfg.Sandbox.WebRoot = getEnv("WEB_ROOT", cfg.Sandbox.WebRoot)
	cfg.Interpreter.Name = getEnv("INTERPRETER", cfg.Interpreter.Name)
	cfg.Interpreter.Binary = getEnv("INTERPRETER_BINARY", cfg.Interpreter.Binary)
	cfg.Shell = getEnv("SHELL_PATH", cfg.Shell)
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnv("STORE_DSN", cfg.Store.DSN)
	cfg.Store.Path = getEnv("JOBS_FILE", cfg.Store.Path)
	cfg.Lease.Backend = getEnv("LEASE_BACKEND", cfg.Lease.Backend)
	cfg.Lease.Dir = getEnv("LEASE_DIR", cfg.Lease.Dir)
	cfg.Lease.TTL = getEnv("LEASE_TTL", cfg.Lease.TTL)
	cfg.Ledger.MarkSkipped = getEnvBool("LEDGER_MARK_SKIPPED", cfg.Ledger.MarkSkipped)
	cfg.Ledger.QuietNotDue = getEnvBool("LEDGER_QUIET_NOT_DUE", cfg.Ledger.QuietNotDue)
	cfg.Server.Host = getEnv("BIND_ADDRESS", cfg.Server.Host)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Slack.WebhookURL = getEnv("SLACK_WEBHOOK_URL", cfg.Slack.WebhookURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg
}

func (c *Config) Validate() error {
	if c.Sandbox.WebRoot == "" {
		return fmt.Errorf("%w: sandbox.web_root is required", ErrInvalidConfig)
	}
	if c.Interpreter.Name == "" {
		return fmt.Errorf("%w: interpreter.name is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(c.Interpreter.Name, " \t\n") {
		return fmt.Errorf("%w: interpreter.name %q must be a single word", ErrInvalidConfig, c.Interpreter.Name)
	}

	switch c.Store.Driver {
	case StoreFile:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for the file store", ErrInvalidConfig)
		}
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for the %s store", ErrInvalidConfig, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	switch c.Lease.Backend {
	case LeaseFile:
		if c.Lease.Dir == "" {
			return fmt.Errorf("%w: lease.dir is required for file leases", ErrInvalidConfig)
		}
	case LeaseMemory:
	default:
		return fmt.Errorf("%w: unknown lease backend %q", ErrInvalidConfig, c.Lease.Backend)
	}

	if _, err := c.LeaseTTL(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// LeaseTTL is the parsed lease.ttl, zero when unset
func (c *Config) LeaseTTL() (time.Duration, error) {
	if c.Lease.TTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.Lease.TTL)
	if err != nil || ttl < 0 {
		return 0, fmt.Errorf("%w: invalid lease ttl %q", ErrInvalidConfig, c.Lease.TTL)
	}
	return ttl, nil
}

// Location is the zone schedules are evaluated in, the local zone by default
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return level, nil
}

// Addr is the status API listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// Timeouts returns the server read and write timeouts, 10s each when unset
func (c *Config) Timeouts() (read, write time.Duration) {
	read, write = 10*time.Second, 10*time.Second
	if d, err := time.ParseDuration(c.Server.ReadTimeout); err == nil && d > 0 {
		read = d
	}
	if d, err := time.ParseDuration(c.Server.WriteTimeout); err == nil && d > 0 {
		write = d
	}
	return read, write
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
