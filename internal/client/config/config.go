package config

import "time"

// Config holds runtime settings for the holamess CLI.
//
// Fields:
//   - ServerEndpointHTTP: base URL of the backend REST API.
//   - ServerEndpointRealtime: host:port of the realtime TCP endpoint.
//   - Device: device label sent with login and the realtime handshake.
//   - RequestTimeout: per-request timeout for REST calls.
type Config struct {
	ServerEndpointHTTP     string
	ServerEndpointRealtime string
	Device                 string
	RequestTimeout         time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointHTTP = "http://127.0.0.1:3000"
	c.ServerEndpointRealtime = "127.0.0.1:3001"
	c.Device = "CLI"
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
