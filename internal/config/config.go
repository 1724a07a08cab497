package config

import (
	"fmt"
	"time"
)

// LogLevel defines the minimum severity for log entries.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// LogFormat selects the encoding of log entries.
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// Config is the top-level configuration structure.
type Config struct {
	Engine   *EngineConfig   `json:"engine,omitempty" toml:"engine,omitempty"`
	Upstream *UpstreamConfig `json:"upstream,omitempty" toml:"upstream,omitempty"`
	Logging  *LoggingConfig  `json:"logging,omitempty" toml:"logging,omitempty"`
	Metrics  *MetricsConfig  `json:"metrics,omitempty" toml:"metrics,omitempty"`

	// OriginalFilePath is the absolute path the configuration was loaded from.
	OriginalFilePath string `json:"-" toml:"-"`
}

// EngineConfig holds engine shell settings.
type EngineConfig struct {
	// TerminateTimeout bounds how long Terminate waits for in-flight streams, e.g. "5s".
	TerminateTimeout *Duration `json:"terminate_timeout,omitempty" toml:"terminate_timeout,omitempty"`
	// PreferredNetwork is one of "generic", "wlan", "wwan".
	PreferredNetwork *string `json:"preferred_network,omitempty" toml:"preferred_network,omitempty"`
}

// UpstreamConfig holds settings for the reference event producers.
type UpstreamConfig struct {
	ChunkSize         *int    `json:"chunk_size,omitempty" toml:"chunk_size,omitempty"`
	HeaderTableSize   *uint32 `json:"header_table_size,omitempty" toml:"header_table_size,omitempty"`
	MaxHeaderListSize *uint32 `json:"max_header_list_size,omitempty" toml:"max_header_list_size,omitempty"`
	// AttemptCount is reported on terminal errors; -1 means not applicable.
	AttemptCount *int32 `json:"attempt_count,omitempty" toml:"attempt_count,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	LogLevel LogLevel  `json:"log_level,omitempty" toml:"log_level,omitempty"`
	Target   string    `json:"target,omitempty" toml:"target,omitempty"` // "stdout", "stderr" or an absolute file path
	Format   LogFormat `json:"format,omitempty" toml:"format,omitempty"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   *bool  `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Namespace string `json:"namespace,omitempty" toml:"namespace,omitempty"`
	// ListenAddress, if set, serves /metrics on this host:port while the CLI runs.
	ListenAddress string `json:"listen_address,omitempty" toml:"listen_address,omitempty"`
}

// Duration is a time.Duration that decodes from strings like "10s" in both JSON and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a positive Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", s, err)
	}
	if v <= 0 {
		return fmt.Errorf("duration must be positive, got %q", s)
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}
