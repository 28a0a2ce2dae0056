package metrics

import (
	"time"
)

// Default configuration values.
const (
	DefaultPrefix  = "resque"
	DefaultHost    = "localhost"
	DefaultPort    = 8125
	DefaultTimeout = 50 * time.Millisecond
)

// Settings is an immutable snapshot of the configuration read by every emission.
type Settings struct {
	// Prefix is prepended, with a dot, to every metric name.
	Prefix string
	// Destination is the default statsd server, subject to environment overrides.
	Destination Destination
	// Timeout bounds a single send, including host name resolution.
	Timeout time.Duration
	// PreciseTiming rounds timer values to the millisecond rather than to the second.
	PreciseTiming bool
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		Prefix: DefaultPrefix,
		Destination: Destination{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Timeout: DefaultTimeout,
	}
}
