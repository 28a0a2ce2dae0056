package metrics

import (
	"net"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v6"
)

// Destination is the statsd server metrics are sent to.
type Destination struct {
	Host string
	Port int
}

// String formats the destination as host:port.
func (d Destination) String() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Valid reports whether the destination can be sent to.
func (d Destination) Valid() bool {
	return d.Host != "" && d.Port > 0 && d.Port <= 65535
}

// destinationEnv holds the environment overrides consulted on every emission.
type destinationEnv struct {
	StatsdHost   string `env:"STATSD_HOST"`
	GraphiteHost string `env:"GRAPHITE_HOST"`
	StatsdPort   string `env:"STATSD_PORT"`
}

// ResolveDestination computes the effective destination from the environment and the configured
// defaults. The environment is read on every call and never cached.
//
// The host is taken from STATSD_HOST, then GRAPHITE_HOST, then the default; the port from
// STATSD_PORT, then the default. A chosen host holding exactly one colon is split, and the port
// after the colon overrides the port chosen so far. The second return value is false when the
// result cannot be sent to.
func ResolveDestination(defaults Destination) (Destination, bool) {
	// Plain string fields have no parser, so Parse cannot fail here.
	var overrides destinationEnv
	_ = env.Parse(&overrides)

	host := defaults.Host
	port := strconv.Itoa(defaults.Port)

	if isSet(overrides.StatsdHost) {
		host = overrides.StatsdHost
	} else if isSet(overrides.GraphiteHost) {
		host = overrides.GraphiteHost
	}

	if isSet(overrides.StatsdPort) {
		port = overrides.StatsdPort
	}

	if strings.Count(host, ":") == 1 {
		parts := strings.SplitN(host, ":", 2)
		host, port = parts[0], parts[1]
	}

	dest := Destination{Host: host, Port: parsePort(port)}

	return dest, dest.Valid()
}

// isSet treats empty values and a literal "0" as unset, matching the emptiness check existing
// deployments were written against.
func isSet(value string) bool {
	return value != "" && value != "0"
}

// parsePort converts a port string, yielding zero for anything unusable.
func parsePort(port string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || parsed <= 0 || parsed > 65535 {
		return 0
	}

	return parsed
}
