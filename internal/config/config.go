// Package config loads the liveinbox configuration from defaults, an optional
// YAML file, and environment variables, then validates it.
package config

import (
	"net"
	"strconv"
)

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
