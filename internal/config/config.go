// Package config holds the immutable configuration snapshot for the
// server and the field-level validators used while parsing CLI flags,
// in the style of hexinfra/gorox's Server_.OnConfigure: each field has
// a default and, where meaningful, a validator that rejects out-of-range
// values before the snapshot is ever handed to the running server.
package config

import (
	"fmt"
	"time"
)

// Config is the immutable configuration snapshot for a running server.
// Once returned from Validate, a Config is never mutated; it is shared
// freely across goroutines.
type Config struct {
	Addr string
	Port int

	ScriptPath string // empty => derive from request DOCUMENT_ROOT

	Fork bool

	MaxThreads      int
	MinThreads      int
	ThreadKeepalive time.Duration
	ConnKeepalive   time.Duration // < 0 => no timeout

	ScriptTimeout time.Duration // 0 => disabled

	Verbose bool
}

// Default returns a Config populated with the server's documented
// defaults.
func Default() Config {
	return Config{
		Addr:            "127.0.0.1",
		Port:            4000,
		ScriptPath:      "",
		Fork:            false,
		MaxThreads:      50,
		MinThreads:      1,
		ThreadKeepalive: 60 * time.Second,
		ConnKeepalive:   -1 * time.Second,
		ScriptTimeout:   30 * time.Second,
		Verbose:         false,
	}
}

// Validate checks cross-field and range invariants that a flag parser
// cannot express per-flag (e.g. MinThreads <= MaxThreads). It returns a
// descriptive error naming the offending field, in the style of gorox's
// ".fieldName has an invalid value" messages.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port has an invalid value: %d", c.Port)
	}
	if c.MaxThreads < 1 {
		return fmt.Errorf("max_threads has an invalid value: %d (must be >= 1)", c.MaxThreads)
	}
	if c.MinThreads < 0 {
		return fmt.Errorf("min_threads has an invalid value: %d (must be >= 0)", c.MinThreads)
	}
	if c.MinThreads > c.MaxThreads {
		return fmt.Errorf("min_threads (%d) must not exceed max_threads (%d)", c.MinThreads, c.MaxThreads)
	}
	if c.ThreadKeepalive < 0 {
		return fmt.Errorf("thread_keepalive has an invalid value: %s (must be >= 0)", c.ThreadKeepalive)
	}
	if c.ScriptTimeout < 0 {
		return fmt.Errorf("script_timeout has an invalid value: %s (must be >= 0)", c.ScriptTimeout)
	}
	return nil
}

// Address returns the "host:port" listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// HasConnTimeout reports whether idle connections should be timed out
// (a negative ConnKeepalive disables the idle timeout entirely).
func (c Config) HasConnTimeout() bool {
	return c.ConnKeepalive >= 0
}
