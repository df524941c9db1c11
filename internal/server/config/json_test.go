package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":              "www.example:9000",
		"endpoint_addr_realtime":          "www.example:9001",
		"database_dsn":                    "chat.db",
		"secret_key":                      "my_secret_key",
		"refresh_secret_key":              "my_refresh_key",
		"access_token_validity_duration":  "15m",
		"refresh_token_validity_duration": "168h",
		"max_sessions_per_user":           5,
		"revalidate_interval":             "2m",
		"ring_timeout":                    "45s",
		"allow_legacy_join":               false,
		"conversation_page_size":          50,
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "www.example:9001", cfg.EndpointAddrRealtime)
		assert.Equal(t, "chat.db", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, "my_refresh_key", cfg.RefreshSecretKey)
		assert.Equal(t, 15*time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, 168*time.Hour, cfg.RefreshTokenValidityDuration)
		assert.Equal(t, 5, cfg.MaxSessionsPerUser)
		assert.Equal(t, 2*time.Minute, cfg.RevalidateInterval)
		assert.Equal(t, 45*time.Second, cfg.RingTimeout)
		assert.False(t, cfg.AllowLegacyJoin)
		assert.Equal(t, 50, cfg.ConversationPageSize)
	})

	t.Run("no config flag leaves values untouched", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			EndpointAddrHTTP:   "defaults:1234",
			MaxSessionsPerUser: 3,
			AllowLegacyJoin:    true,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrHTTP)
		assert.Equal(t, 3, cfg.MaxSessionsPerUser)
		assert.True(t, cfg.AllowLegacyJoin)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
