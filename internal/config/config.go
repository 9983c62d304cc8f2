// Package config provides the configuration structure for the voice toolkit.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied by Validate when a field is left empty.
const (
	DefaultHost                   = "localhost"
	DefaultPortRangeStart         = 8000
	DefaultPortRangeEnd           = 8080
	DefaultInterpreter            = "python"
	DefaultStartupTimeoutSeconds  = 300
	DefaultRequestTimeoutSeconds  = 6 * 60 * 60
	DefaultShutdownTimeoutSeconds = 10
	DefaultOutputGraceMillis      = 200
	DefaultJobsSubject            = "voice.toolkit.jobs"
	DefaultArtifactBucket         = "VOICE_TOOLKIT_ARTIFACTS"
	DefaultMetricsNamespace       = "voice_toolkit"
)

// Static errors.
var (
	ErrExecutablePathEmpty = errors.New("server executable path cannot be empty")
	ErrInvalidPortRange    = errors.New("invalid port range")
	ErrNegativeTimeout     = errors.New("timeouts must be non-negative")
)

// ServerConfig describes how the inference server subprocess is launched.
type ServerConfig struct {
	ExecutablePath         string   `toml:"executable_path"`
	Interpreter            string   `toml:"interpreter"`
	ExtraArgs              []string `toml:"extra_args"`
	LogPath                string   `toml:"log_path"`
	EnvFile                string   `toml:"env_file"`
	Host                   string   `toml:"host"`
	PortRangeStart         int      `toml:"port_range_start"`
	PortRangeEnd           int      `toml:"port_range_end"`
	StartupTimeoutSeconds  int      `toml:"startup_timeout_seconds"`
	RequestTimeoutSeconds  int      `toml:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	OutputGraceMillis      int      `toml:"output_grace_ms"`
}

// StartupTimeout returns the readiness wait bound.
func (s ServerConfig) StartupTimeout() time.Duration {
	return time.Duration(s.StartupTimeoutSeconds) * time.Second
}

// RequestTimeout returns the bound for a single dispatched tool call.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long to wait for the server to exit after terminate.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// OutputGrace returns how long server output must stay quiet after a
// response before the request's capture is closed.
func (s ServerConfig) OutputGrace() time.Duration {
	return time.Duration(s.OutputGraceMillis) * time.Millisecond
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// NATSConfig holds the configuration for the job worker.
type NATSConfig struct {
	URL            string `toml:"url"`
	JobsSubject    string `toml:"jobs_subject"`
	ArtifactBucket string `toml:"artifact_bucket"`

	// WorkDir is the root every job input and artifact path resolves under.
	WorkDir string `toml:"work_dir"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Addr      string `toml:"addr"`
	Namespace string `toml:"namespace"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Paths   PathsConfig   `toml:"paths"`
	NATS    NATSConfig    `toml:"nats"`
	Metrics MetricsConfig `toml:"metrics"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFile loads the configuration from a TOML file on disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fills defaults and checks ranges.
func (c *Config) Validate() error {
	s := &c.Server

	if s.ExecutablePath == "" {
		return ErrExecutablePathEmpty
	}

	if s.Host == "" {
		s.Host = DefaultHost
	}

	if s.Interpreter == "" {
		s.Interpreter = DefaultInterpreter
	}

	if s.PortRangeStart == 0 && s.PortRangeEnd == 0 {
		s.PortRangeStart, s.PortRangeEnd = DefaultPortRangeStart, DefaultPortRangeEnd
	}

	if s.PortRangeStart <= 0 || s.PortRangeEnd > 65535 || s.PortRangeStart > s.PortRangeEnd {
		return fmt.Errorf("%w: %d..%d", ErrInvalidPortRange, s.PortRangeStart, s.PortRangeEnd)
	}

	if s.StartupTimeoutSeconds < 0 || s.RequestTimeoutSeconds < 0 || s.ShutdownTimeoutSeconds < 0 ||
		s.OutputGraceMillis < 0 {
		return ErrNegativeTimeout
	}

	if s.StartupTimeoutSeconds == 0 {
		s.StartupTimeoutSeconds = DefaultStartupTimeoutSeconds
	}

	if s.RequestTimeoutSeconds == 0 {
		s.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}

	if s.ShutdownTimeoutSeconds == 0 {
		s.ShutdownTimeoutSeconds = DefaultShutdownTimeoutSeconds
	}

	if s.OutputGraceMillis == 0 {
		s.OutputGraceMillis = DefaultOutputGraceMillis
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}

	if c.NATS.JobsSubject == "" {
		c.NATS.JobsSubject = DefaultJobsSubject
	}

	if c.NATS.ArtifactBucket == "" {
		c.NATS.ArtifactBucket = DefaultArtifactBucket
	}

	if c.NATS.WorkDir == "" {
		c.NATS.WorkDir = filepath.Join(os.TempDir(), "voice-toolkit")
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	return nil
}

// ServerEnv returns the environment handed to the server subprocess: the
// current process environment overlaid with the optional env file.
func (c *Config) ServerEnv() ([]string, error) {
	env := os.Environ()

	if c.Server.EnvFile == "" {
		return env, nil
	}

	values, err := godotenv.Read(c.Server.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file '%s': %w", c.Server.EnvFile, err)
	}

	for key, value := range values {
		env = append(env, key+"="+value)
	}

	return env, nil
}
