package config

import (
	"flag"
	"os"
	"time"

	"github.com/holamess/holamess/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the backend REST API (default from Config)
//	-r string   address and port of the realtime endpoint (default from Config)
//	-d string   device label (default from Config)
//	-t int      request timeout in seconds (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-r", "-d", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointHTTP, "a", cfg.ServerEndpointHTTP, "base URL of the REST API")
	fs.StringVar(&cfg.ServerEndpointRealtime, "r", cfg.ServerEndpointRealtime, "address and port of the realtime endpoint")
	fs.StringVar(&cfg.Device, "d", cfg.Device, "device label")
	requestTimeout := fs.Int("t", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*requestTimeout) * time.Second
}
