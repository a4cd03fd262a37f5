package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that parses "10s"-style YAML values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the curator node configuration.
type Config struct {
	// Host and Port for the HTTP service. Overridden by SERVICE_HOST and
	// SERVICE_PORT when set.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// NodeID identifies this data-center node in exported artifacts.
	NodeID string `yaml:"node_id"`

	// DataDir holds the metadata index database.
	DataDir string `yaml:"data_dir"`

	// MetadataPath is the blob store root; submitted and converted
	// artifacts live under it, prototypes under its prototypes/ child.
	MetadataPath string `yaml:"metadata_path"`

	// PrototypeDir is scanned and watched for network prototype files.
	PrototypeDir string `yaml:"prototype_dir"`

	// MaxUploadBytes caps a single multipart submission.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// PollInterval is the lifecycle daemon cadence.
	PollInterval Duration `yaml:"poll_interval"`

	// AvailabilityInterval is the completion checker cadence.
	AvailabilityInterval Duration `yaml:"availability_interval"`

	// ConverterPath is the external converter/merger executable.
	ConverterPath string `yaml:"converter_path"`

	// ConverterTimeout bounds a single subprocess invocation.
	ConverterTimeout Duration `yaml:"converter_timeout"`

	// QueryServiceURL is the public FDSN station query webservice the
	// availability checker polls.
	QueryServiceURL string `yaml:"query_service_url"`

	// PurgeDeleted enables removal of DELETED records and their
	// unreferenced blobs.
	PurgeDeleted bool `yaml:"purge_deleted"`

	// ReconfigureOnMerge triggers a webservice reconfigure and restart
	// after a successful full inventory merge.
	ReconfigureOnMerge bool `yaml:"reconfigure_on_merge"`

	// SessionTTL bounds how long an authenticated session lives.
	SessionTTL Duration `yaml:"session_ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:                 "0.0.0.0",
		Port:                 8088,
		NodeID:               "curator",
		DataDir:              "/var/lib/curator",
		MetadataPath:         "/var/lib/curator/metadata",
		PrototypeDir:         "/var/lib/curator/prototypes",
		MaxUploadBytes:       100 << 20,
		PollInterval:         Duration(10 * time.Second),
		AvailabilityInterval: Duration(5 * time.Minute),
		ConverterPath:        "seiscomp-converter",
		ConverterTimeout:     Duration(5 * time.Minute),
		QueryServiceURL:      "http://localhost:8080/fdsnws/station/1/query",
		PurgeDeleted:         false,
		ReconfigureOnMerge:   false,
		SessionTTL:           Duration(12 * time.Hour),
	}
}

// Load reads the configuration file at path (optional) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if host := os.Getenv("SERVICE_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("SERVICE_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVICE_PORT %q: %w", port, err)
		}
		cfg.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the services cannot run
// with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.AvailabilityInterval <= 0 {
		return fmt.Errorf("availability_interval must be positive")
	}
	if c.ConverterTimeout <= 0 {
		return fmt.Errorf("converter_timeout must be positive")
	}
	if c.MetadataPath == "" {
		return fmt.Errorf("metadata_path is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
