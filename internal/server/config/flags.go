package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/pressarchive/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-r string   storage root directory
//	-m string   serve mode: accel, direct, auto or presign
//	-b string   compression backend: ghostscript or pdfcpu
//	-q string   comma separated RocketMQ name servers (empty: in-process queue)
//	-w int      light lane workers
//	-o int      OCR lane workers
//	-l string   log level
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, so -c/-config and -env can share the command line.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-r", "-m", "-b", "-q", "-w", "-o", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "JWT secret key")
	fs.StringVar(&config.StorageRoot, "r", config.StorageRoot, "storage root")
	fs.StringVar(&config.ServeMode, "m", config.ServeMode, "serve mode")
	fs.StringVar(&config.CompressionBackend, "b", config.CompressionBackend, "compression backend")
	nameServers := fs.String("q", strings.Join(config.RocketMQNameServers, ","), "RocketMQ name servers")
	fs.IntVar(&config.LightWorkers, "w", config.LightWorkers, "light lane workers")
	fs.IntVar(&config.OcrWorkers, "o", config.OcrWorkers, "OCR lane workers")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RocketMQNameServers = splitList(*nameServers)
}
