package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the archive HTTP API
//	-t string   bearer token
//	-p int      parallel chunk requests
//	-n int      attempts per chunk
//	-i int      status poll interval in seconds
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-t", "-p", "-n", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "archive base URL")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "bearer token")
	fs.IntVar(&cfg.Parallel, "p", cfg.Parallel, "parallel chunk requests")
	fs.UintVar(&cfg.Attempts, "n", cfg.Attempts, "attempts per chunk")
	pollInterval := fs.Int("i", int(cfg.PollInterval.Seconds()), "status poll interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollInterval = time.Duration(*pollInterval) * time.Second
}
