package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/holamess/holamess/internal/flagx"
	"github.com/holamess/holamess/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "5m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	EndpointAddrRealtime         string         `json:"endpoint_addr_realtime"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	RefreshSecretKey             string         `json:"refresh_secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	MaxSessionsPerUser           int            `json:"max_sessions_per_user"`
	RevalidateInterval           timex.Duration `json:"revalidate_interval"`
	RingTimeout                  timex.Duration `json:"ring_timeout"`
	AllowLegacyJoin              *bool          `json:"allow_legacy_join"`
	ConversationPageSize         int            `json:"conversation_page_size"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; when
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.EndpointAddrRealtime = c.EndpointAddrRealtime
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.RefreshSecretKey = c.RefreshSecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.RevalidateInterval = time.Duration(c.RevalidateInterval.Duration)
	config.RingTimeout = time.Duration(c.RingTimeout.Duration)
	if c.MaxSessionsPerUser > 0 {
		config.MaxSessionsPerUser = c.MaxSessionsPerUser
	}
	if c.ConversationPageSize > 0 {
		config.ConversationPageSize = c.ConversationPageSize
	}
	if c.AllowLegacyJoin != nil {
		config.AllowLegacyJoin = *c.AllowLegacyJoin
	}
}
