package config

import (
	"flag"
	"os"
	"time"

	"github.com/holamess/holamess/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":3000")
//	-l string   realtime TCP bind address (e.g., ":3001")
//	-d string   PostgreSQL DSN
//	-s string   access-token HMAC secret
//	-k string   refresh-token HMAC secret
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-m int      max concurrent sessions per user
//	-v int      realtime revalidation interval, minutes
//	-w int      ring timeout, seconds (0 disables)
//	-j bool     allow the legacy unverified join attach
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to
//     time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-l", "-d", "-s", "-k", "-t", "-r", "-m", "-v", "-w", "-j"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port for the REST API")
	fs.StringVar(&config.EndpointAddrRealtime, "l", config.EndpointAddrRealtime, "address and port for the realtime endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "access-token secret key")
	fs.StringVar(&config.RefreshSecretKey, "k", config.RefreshSecretKey, "refresh-token secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")
	revalidateInterval := fs.Int("v", int(config.RevalidateInterval.Minutes()), "revalidate_interval (in minutes)")
	ringTimeout := fs.Int("w", int(config.RingTimeout.Seconds()), "ring_timeout (in seconds, 0 disables)")

	fs.IntVar(&config.MaxSessionsPerUser, "m", config.MaxSessionsPerUser, "max concurrent sessions per user")
	fs.BoolVar(&config.AllowLegacyJoin, "j", config.AllowLegacyJoin, "allow legacy unverified join")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
	config.RevalidateInterval = time.Duration(*revalidateInterval) * time.Minute
	config.RingTimeout = time.Duration(*ringTimeout) * time.Second
}
