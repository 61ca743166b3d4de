// Package config loads runtime configuration for the archive uploader.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the archive HTTP API
//	-t string   bearer token
//	-p int      parallel chunk requests
//	-n int      attempts per chunk
//	-i int      status poll interval (seconds)
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_url": "https://archive.example",
//	  "token": "eyJ...",
//	  "parallel": 4,
//	  "attempts": 5,
//	  "retry_delay": "500ms",
//	  "request_timeout": "5m",
//	  "poll_interval": "3s"
//	}
package config
