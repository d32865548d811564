package config

import (
	"flag"
	"os"
	"time"

	"github.com/chatterbox-im/chatterbox/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   base URL of the REST backend
//	-w string   websocket endpoint
//	-d string   path to the vault database file
//	-t int      request timeout in seconds
//
// The function filters os.Args to only the flags it knows about, using
// flagx.FilterArgs, so it does not interfere with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-d", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "base URL of the REST backend")
	fs.StringVar(&cfg.WSURL, "w", cfg.WSURL, "websocket endpoint")
	fs.StringVar(&cfg.VaultPath, "d", cfg.VaultPath, "path to the vault database file")
	requestTimeout := fs.Int("t", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*requestTimeout) * time.Second

	// The device secret never travels through argv where other processes
	// could read it.
	if secret := os.Getenv("CHATTERBOX_DEVICE_SECRET"); secret != "" {
		cfg.DeviceSecret = secret
	}
}
