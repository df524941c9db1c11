package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/holamess/holamess/internal/flagx"
	"github.com/holamess/holamess/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "10s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerEndpointHTTP     string         `json:"server_endpoint_http"`
	ServerEndpointRealtime string         `json:"server_endpoint_realtime"`
	Device                 string         `json:"device"`
	RequestTimeout         timex.Duration `json:"request_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerEndpointHTTP = jc.ServerEndpointHTTP
	cfg.ServerEndpointRealtime = jc.ServerEndpointRealtime
	cfg.Device = jc.Device
	cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
}
