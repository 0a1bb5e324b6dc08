package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// LogLevel defines the minimum severity for log entries.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Defaults applied by LoadConfig.
const (
	DefaultMaxTableSize     uint32 = 4096 // RFC 7540 SETTINGS_HEADER_TABLE_SIZE initial value
	DefaultMaxStringLength  uint32 = 64 << 10
	DefaultLogLevel                = LogLevelInfo
	DefaultLogTarget               = "stderr"
	DefaultMetricsNamespace        = "h2resp"
)

// Config is the top-level configuration structure.
type Config struct {
	Hpack   *HpackConfig   `json:"hpack,omitempty" toml:"hpack,omitempty" yaml:"hpack,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty" toml:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// HpackConfig sizes the HPACK dynamic tables.
type HpackConfig struct {
	MaxTableSize *uint32 `json:"max_table_size,omitempty" toml:"max_table_size,omitempty" yaml:"max_table_size,omitempty"`
	// MaxStringLength bounds one decoded header name or value; 0 disables it.
	MaxStringLength *uint32 `json:"max_string_length,omitempty" toml:"max_string_length,omitempty" yaml:"max_string_length,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	LogLevel LogLevel `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	// Target is "stdout", "stderr" or an absolute file path.
	Target string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
}

// MetricsConfig controls prometheus instrumentation.
type MetricsConfig struct {
	Enabled   *bool  `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Namespace string `json:"namespace,omitempty" toml:"namespace,omitempty" yaml:"namespace,omitempty"`
	// Output, when set, receives the counters in Prometheus text format on
	// exit: "stdout", "stderr" or a file path.
	Output string `json:"output,omitempty" toml:"output,omitempty" yaml:"output,omitempty"`
}

// IsFilePath reports whether a log target names a file rather than a
// standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

// LoadConfig reads, parses, defaults and validates the configuration file at
// path. The format is chosen by extension (.json, .toml, .yaml, .yml);
// otherwise JSON, TOML and YAML are tried in that order.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("configuration file %s is empty", path)
	}

	cfg, err := parseConfig(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		jsonErr := json.Unmarshal(data, &cfg)
		if jsonErr == nil {
			return &cfg, nil
		}
		cfg = Config{}
		tomlErr := toml.Unmarshal(data, &cfg)
		if tomlErr == nil {
			return &cfg, nil
		}
		cfg = Config{}
		yamlErr := yaml.UnmarshalStrict(data, &cfg)
		if yamlErr == nil {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to auto-detect and parse config: JSON error: %v; TOML error: %v; YAML error: %v", jsonErr, tomlErr, yamlErr)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Hpack == nil {
		cfg.Hpack = &HpackConfig{}
	}
	if cfg.Hpack.MaxTableSize == nil {
		size := DefaultMaxTableSize
		cfg.Hpack.MaxTableSize = &size
	}
	if cfg.Hpack.MaxStringLength == nil {
		n := DefaultMaxStringLength
		cfg.Hpack.MaxStringLength = &n
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = DefaultLogLevel
	}
	if cfg.Logging.Target == "" {
		cfg.Logging.Target = DefaultLogTarget
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Enabled == nil {
		enabled := false
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// Default returns a configuration with every field defaulted.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg.Logging != nil {
		switch cfg.Logging.LogLevel {
		case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		default:
			return fmt.Errorf("logging.log_level %q is invalid; must be one of DEBUG, INFO, WARNING, ERROR", cfg.Logging.LogLevel)
		}
		if IsFilePath(cfg.Logging.Target) && !filepath.IsAbs(cfg.Logging.Target) {
			return fmt.Errorf("logging.target %q must be 'stdout', 'stderr' or an absolute file path", cfg.Logging.Target)
		}
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled != nil && *cfg.Metrics.Enabled {
		if strings.ContainsAny(cfg.Metrics.Namespace, " -.") {
			return fmt.Errorf("metrics.namespace %q is not a valid prometheus name prefix", cfg.Metrics.Namespace)
		}
	}
	return nil
}
