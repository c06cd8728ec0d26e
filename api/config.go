// Package api provides the peer HTTP API: the replication endpoints a remote
// daemon calls, read-only memory endpoints, liveness, and the MCP endpoint.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8443")
	ListenAddr string

	// Token is the bearer token required on /v1 routes. Empty disables
	// authentication.
	Token string

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// TLS reports whether the server should listen with TLS.
func (c Config) TLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
