// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable read by [Load].
const EnvVar = "OUTBOX_CONFIG"

// Config is the complete outbox configuration.
type Config struct {
	// Ingestion configures the collector the outbox delivers to.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Storage configures the on-disk store.
	Storage StorageConfig `yaml:"storage"`

	// Retry configures backoff for failed sends.
	Retry RetryConfig `yaml:"retry"`

	// Session configures session correlation. Sessions are tracked
	// only when Session.Group is set.
	Session SessionConfig `yaml:"session"`

	// Groups are the record groups registered at startup. A file
	// that sets groups replaces the default list entirely.
	Groups []GroupConfig `yaml:"groups"`
}

// IngestionConfig configures the HTTP ingestion client.
type IngestionConfig struct {
	// Endpoint is the collector base URL.
	Endpoint string `yaml:"endpoint"`

	// Variant is "container" ({"logs":[...]} bodies, app-secret auth)
	// or "ndjson" (one record per line, destination tokens in apikey).
	Variant string `yaml:"variant"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration `yaml:"timeout"`

	// GzipThreshold is the body size at which requests are gzipped.
	// Negative disables compression.
	GzipThreshold int `yaml:"gzip_threshold"`

	// AppSecret authenticates container requests.
	AppSecret string `yaml:"app_secret"`

	// InstallID identifies this installation. Empty means a random
	// id is generated at startup.
	InstallID string `yaml:"install_id"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	// Path is the database file.
	Path string `yaml:"path"`

	// MaxBytes caps the database size. Zero leaves it uncapped.
	MaxBytes int64 `yaml:"max_bytes"`

	// PoolSize is the number of SQLite connections.
	PoolSize int `yaml:"pool_size"`

	// Compression is "none", "zstd" or "lz4".
	Compression string `yaml:"compression"`

	// CompressionThreshold is the payload size at which payloads are
	// compressed.
	CompressionThreshold int `yaml:"compression_threshold"`

	// IdentityFile, if set, is an age identity used to encrypt
	// destination tokens at rest.
	IdentityFile string `yaml:"identity_file"`
}

// RetryConfig configures the retry gate.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// SessionConfig configures the session correlator.
type SessionConfig struct {
	// Group receives startSession records. Empty disables sessions.
	Group string `yaml:"group"`

	// Timeout is the inactivity period after which a new session
	// starts.
	Timeout time.Duration `yaml:"timeout"`

	// HistorySize bounds the persisted session history.
	HistorySize int `yaml:"history_size"`
}

// GroupConfig configures one record group.
type GroupConfig struct {
	Name          string        `yaml:"name"`
	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`

	// Capacity bounds the stored rows of the group: one per record,
	// or one per destination token. Zero is unbounded.
	Capacity int `yaml:"capacity"`

	MaxParallelBatches int `yaml:"max_parallel_batches"`

	// Priority is the default priority of the group's records,
	// "normal" or "high".
	Priority string `yaml:"priority"`
}

// Default returns a working configuration for a local collector.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Ingestion: IngestionConfig{
			Endpoint:      "https://in.appcenter.ms",
			Variant:       "container",
			Timeout:       60 * time.Second,
			GzipThreshold: 1400,
		},
		Storage: StorageConfig{
			Path:                 filepath.Join(homeDir, ".local", "state", "outbox", "outbox.db"),
			MaxBytes:             10 << 20,
			PoolSize:             4,
			Compression:          "zstd",
			CompressionThreshold: 4096,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 10 * time.Second,
			MaxBackoff:     20 * time.Minute,
		},
		Session: SessionConfig{
			Group:       "analytics",
			Timeout:     20 * time.Second,
			HistorySize: 10,
		},
		Groups: []GroupConfig{
			{
				Name:               "analytics",
				BatchSize:          50,
				BatchInterval:      3 * time.Second,
				MaxParallelBatches: 1,
				Priority:           "normal",
			},
		},
	}
}

// Load loads the file named by OUTBOX_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your outbox config file, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads path over [Default] and expands variables. The
// result is not validated; call [Config.Validate].
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over [Default]. ext selects the syntax: ".json"
// and ".jsonc" are JSONC, anything else YAML.
func Parse(data []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Ingestion.Endpoint = expandVars(c.Ingestion.Endpoint, vars)
	c.Storage.Path = expandVars(c.Storage.Path, vars)
	c.Storage.IdentityFile = expandVars(c.Storage.IdentityFile, vars)
	c.Ingestion.AppSecret = expandVars(c.Ingestion.AppSecret, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Group returns the named group's configuration.
func (c *Config) Group(name string) (GroupConfig, bool) {
	index := slices.IndexFunc(c.Groups, func(g GroupConfig) bool { return g.Name == name })
	if index < 0 {
		return GroupConfig{}, false
	}
	return c.Groups[index], true
}

// Validate reports every problem in the configuration as one joined
// error.
func (c *Config) Validate() error {
	var errs []error

	if c.Ingestion.Endpoint == "" {
		errs = append(errs, fmt.Errorf("ingestion.endpoint is required"))
	} else if !strings.HasPrefix(c.Ingestion.Endpoint, "http://") && !strings.HasPrefix(c.Ingestion.Endpoint, "https://") {
		errs = append(errs, fmt.Errorf("ingestion.endpoint must be an http or https URL, got %q", c.Ingestion.Endpoint))
	}
	variants := []string{"container", "ndjson"}
	if !slices.Contains(variants, c.Ingestion.Variant) {
		errs = append(errs, fmt.Errorf("ingestion.variant must be one of: %v", variants))
	}
	if c.Ingestion.Timeout < 0 {
		errs = append(errs, fmt.Errorf("ingestion.timeout must not be negative"))
	}

	if c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required"))
	}
	if c.Storage.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("storage.max_bytes must not be negative"))
	}
	compressions := []string{"none", "zstd", "lz4"}
	if !slices.Contains(compressions, c.Storage.Compression) {
		errs = append(errs, fmt.Errorf("storage.compression must be one of: %v", compressions))
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative"))
	}
	if c.Retry.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("retry.initial_backoff must be positive"))
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, fmt.Errorf("retry.max_backoff must be at least retry.initial_backoff"))
	}

	if len(c.Groups) == 0 {
		errs = append(errs, fmt.Errorf("at least one group is required"))
	}
	seen := make(map[string]bool, len(c.Groups))
	priorities := []string{"", "normal", "high"}
	for i, group := range c.Groups {
		field := fmt.Sprintf("groups[%d]", i)
		if group.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else if seen[group.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is duplicated", field, group.Name))
		}
		seen[group.Name] = true
		if group.BatchSize < 0 || group.Capacity < 0 || group.MaxParallelBatches < 0 || group.BatchInterval < 0 {
			errs = append(errs, fmt.Errorf("%s: sizes and intervals must not be negative", field))
		}
		if !slices.Contains(priorities, group.Priority) {
			errs = append(errs, fmt.Errorf("%s.priority must be normal or high, got %q", field, group.Priority))
		}
	}

	if c.Session.Group != "" {
		if !seen[c.Session.Group] {
			errs = append(errs, fmt.Errorf("session.group %q is not a configured group", c.Session.Group))
		}
		if c.Session.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("session.timeout must be positive"))
		}
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the directory holding the database.
func (c *Config) EnsurePaths() error {
	dir := filepath.Dir(c.Storage.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
