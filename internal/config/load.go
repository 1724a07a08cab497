package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"example.com/streambridge/internal/abi"
)

// Defaults applied to fields left unset.
const (
	DefaultTerminateTimeout  = 5 * time.Second
	DefaultPreferredNetwork  = "generic"
	DefaultChunkSize         = 16 * 1024
	DefaultHeaderTableSize   = uint32(4096)
	DefaultMaxHeaderListSize = uint32(abi.DefaultMaxHeaderListSize)
	DefaultAttemptCount      = abi.AttemptCountNotApplicable
	DefaultLogTarget         = "stderr"
	DefaultMetricsNamespace  = "streambridge"

	maxChunkSize = 16 * 1024 * 1024
)

// LoadConfig reads, parses, defaults and validates the configuration at path.
// The format follows the extension (.json, .toml); anything else is auto-detected.
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

	cfg, err := parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		cfg.OriginalFilePath = abs
	} else {
		cfg.OriginalFilePath = path
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		if err := decodeJSON(data, cfg); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	default:
		jsonErr := decodeJSON(data, cfg)
		if jsonErr == nil {
			return cfg, nil
		}
		cfg = &Config{}
		if _, tomlErr := toml.Decode(string(data), cfg); tomlErr != nil {
			return nil, fmt.Errorf("failed to auto-detect format (json: %v; toml: %v)", jsonErr, tomlErr)
		}
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Engine == nil {
		cfg.Engine = &EngineConfig{}
	}
	if cfg.Engine.TerminateTimeout == nil {
		cfg.Engine.TerminateTimeout = &Duration{DefaultTerminateTimeout}
	}
	if cfg.Engine.PreferredNetwork == nil {
		n := DefaultPreferredNetwork
		cfg.Engine.PreferredNetwork = &n
	}

	if cfg.Upstream == nil {
		cfg.Upstream = &UpstreamConfig{}
	}
	if cfg.Upstream.ChunkSize == nil {
		n := DefaultChunkSize
		cfg.Upstream.ChunkSize = &n
	}
	if cfg.Upstream.HeaderTableSize == nil {
		n := DefaultHeaderTableSize
		cfg.Upstream.HeaderTableSize = &n
	}
	if cfg.Upstream.MaxHeaderListSize == nil {
		n := DefaultMaxHeaderListSize
		cfg.Upstream.MaxHeaderListSize = &n
	}
	if cfg.Upstream.AttemptCount == nil {
		n := DefaultAttemptCount
		cfg.Upstream.AttemptCount = &n
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = LogLevelInfo
	}
	if cfg.Logging.Target == "" {
		cfg.Logging.Target = DefaultLogTarget
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatJSON
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Enabled == nil {
		f := false
		cfg.Metrics.Enabled = &f
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if cfg.Engine != nil && cfg.Engine.PreferredNetwork != nil {
		if _, err := abi.ParseNetworkType(*cfg.Engine.PreferredNetwork); err != nil {
			return fmt.Errorf("engine.preferred_network: %w", err)
		}
	}
	if u := cfg.Upstream; u != nil {
		if u.ChunkSize != nil && (*u.ChunkSize <= 0 || *u.ChunkSize > maxChunkSize) {
			return fmt.Errorf("upstream.chunk_size must be between 1 and %d, got %d", maxChunkSize, *u.ChunkSize)
		}
		if u.MaxHeaderListSize != nil && *u.MaxHeaderListSize == 0 {
			return fmt.Errorf("upstream.max_header_list_size must be positive")
		}
		if u.AttemptCount != nil && *u.AttemptCount < abi.AttemptCountNotApplicable {
			return fmt.Errorf("upstream.attempt_count must be -1 or greater, got %d", *u.AttemptCount)
		}
	}
	if l := cfg.Logging; l != nil {
		switch l.LogLevel {
		case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		default:
			return fmt.Errorf("logging.log_level %q is not one of DEBUG, INFO, WARNING, ERROR", l.LogLevel)
		}
		switch l.Format {
		case LogFormatJSON, LogFormatConsole:
		default:
			return fmt.Errorf("logging.format %q is not one of json, console", l.Format)
		}
		if l.Target == "" {
			return fmt.Errorf("logging.target cannot be empty")
		}
		if IsFilePath(l.Target) && !filepath.IsAbs(l.Target) {
			return fmt.Errorf("logging.target file path %q must be absolute", l.Target)
		}
	}
	if m := cfg.Metrics; m != nil && m.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(m.ListenAddress); err != nil {
			return fmt.Errorf("metrics.listen_address %q: %w", m.ListenAddress, err)
		}
	}
	return nil
}
