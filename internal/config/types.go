package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	State      StateConfig      `json:"state"`
	Audit      *AuditConfig     `json:"audit,omitempty"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Retry      RetryConfig      `json:"retry"`
	Media      MediaConfig      `json:"media"`
	Publisher  PublisherConfig  `json:"publisher"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StateConfig locates the queue state document.
type StateConfig struct {
	Path string `json:"path"` // default: ./postpilot_state.json
}

// AuditConfig controls the optional attempt-history store.
//
// Example:
//
//	"audit": { "driver": "sqlite", "path": "./postpilot_audit.db" }
type AuditConfig struct {
	Driver      string `json:"driver"` // none|file|sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatcherConfig controls the tick loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick: "10s"
//   - publish_timeout: "2m"
//   - rate_every: "0s" (pacing disabled)
type DispatcherConfig struct {
	Tick           string `json:"tick,omitempty"`
	PublishTimeout string `json:"publish_timeout,omitempty"`
	// RateEvery is the minimum interval between publish calls.
	RateEvery string `json:"rate_every,omitempty"`
}

// RetryConfig controls the per-job retry curve. At most one of
// exponential/linear may be set; with neither, the delay is fixed.
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"` // default 3
	Delay       string `json:"delay,omitempty"`        // default "1m"
	MaxDelay    string `json:"max_delay,omitempty"`    // default "15m"
	Exponential bool   `json:"exponential,omitempty"`
	Linear      bool   `json:"linear,omitempty"`
}

type MediaConfig struct {
	// AllowedExts filters directory listings (default .jpg .jpeg .png .gif).
	AllowedExts []string `json:"allowed_exts,omitempty"`
}

type PublisherConfig struct {
	Driver string `json:"driver"` // "dryrun" built in; default "dryrun"
}

// Validate catches structural mistakes early so a bad reload never reaches
// the running engine.
func (c *Config) Validate() error {
	if c.Retry.Exponential && c.Retry.Linear {
		return fmt.Errorf("retry: exponential and linear are mutually exclusive")
	}
	for _, f := range []struct{ path, raw string }{
		{"dispatcher.tick", c.Dispatcher.Tick},
		{"dispatcher.publish_timeout", c.Dispatcher.PublishTimeout},
		{"dispatcher.rate_every", c.Dispatcher.RateEvery},
		{"retry.delay", c.Retry.Delay},
		{"retry.max_delay", c.Retry.MaxDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if c.Audit != nil {
		switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("audit.driver: unknown driver %q", c.Audit.Driver)
		}
		if _, err := ParseDurationField("audit.busy_timeout", c.Audit.BusyTimeout); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Publisher.Driver)) {
	case "", "dryrun":
	default:
		return fmt.Errorf("publisher.driver: unknown driver %q (external drivers are injected)", c.Publisher.Driver)
	}
	return nil
}
