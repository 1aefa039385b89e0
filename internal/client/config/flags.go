package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/medvault/internal/flagx"
)

// Flags are the ones the client reads ahead of the subcommand; the
// subcommand's own flags are left alone.
var Flags = []string{"-a", "-T", "-r"}

func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], Flags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the vault server")
	fs.StringVar(&cfg.AuthToken, "T", cfg.AuthToken, "bearer token")
	requestTimeout := fs.Int("r", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*requestTimeout) * time.Second
}
