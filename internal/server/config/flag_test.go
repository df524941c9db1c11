package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"cmd",
		"-a", "127.0.0.1:9090", "-l", "127.0.0.1:9091", "-d", "db", "-s", "secret", "-k", "refresh",
		"-t", "1", "-r", "3", "-m", "5", "-v", "2", "-w", "30",
	}

	config := &Config{}
	require.NotPanics(t, func() { parseFlags(config) })

	assert.Equal(t, "127.0.0.1:9090", config.EndpointAddrHTTP)
	assert.Equal(t, "127.0.0.1:9091", config.EndpointAddrRealtime)
	assert.Equal(t, "db", config.DatabaseDSN)
	assert.Equal(t, "secret", config.SecretKey)
	assert.Equal(t, "refresh", config.RefreshSecretKey)
	assert.Equal(t, 1*time.Minute, config.AccessTokenValidityDuration)
	assert.Equal(t, 3*time.Minute, config.RefreshTokenValidityDuration)
	assert.Equal(t, 5, config.MaxSessionsPerUser)
	assert.Equal(t, 2*time.Minute, config.RevalidateInterval)
	assert.Equal(t, 30*time.Second, config.RingTimeout)
}

func TestParseFlags_DefaultsSurvive(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"cmd"}

	config := &Config{}
	config.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(config) })

	assert.Equal(t, ":3000", config.EndpointAddrHTTP)
	assert.Equal(t, 3, config.MaxSessionsPerUser)
	assert.True(t, config.AllowLegacyJoin)
}
