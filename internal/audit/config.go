package audit

import (
	"time"

	"github.com/vyrodovalexey/tktauth/internal/config"
)

// Defaults applied by NewLogger.
const (
	defaultBufferSize    = 1024
	defaultFlushInterval = 5 * time.Second
)

// Config represents the audit logger configuration.
type Config struct {
	// Enabled turns audit logging on. A disabled config yields a
	// logger that discards everything.
	Enabled bool

	// Output is the destination: "stdout", "stderr", or a file path.
	// Empty means stdout.
	Output string

	// BufferSize is the event channel capacity. Events beyond it are
	// dropped rather than blocking the request path.
	BufferSize int

	// FlushInterval bounds how long a written event sits in the output
	// buffer before it is flushed.
	FlushInterval time.Duration
}

// DefaultConfig returns an audit configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       false,
		Output:        "stdout",
		BufferSize:    defaultBufferSize,
		FlushInterval: defaultFlushInterval,
	}
}

// FromAuditConfig converts the service configuration section into an
// audit Config.
func FromAuditConfig(cfg config.AuditConfig) *Config {
	return &Config{
		Enabled:       cfg.Enabled,
		Output:        cfg.Path,
		BufferSize:    cfg.BufferSize,
		FlushInterval: time.Duration(cfg.FlushInterval),
	}
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	if c.Output == "" {
		c.Output = "stdout"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
}
