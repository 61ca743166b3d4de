package config

import "time"

// Config holds runtime settings for the archive uploader.
//
// Fields:
//   - ServerURL: base URL of the archive HTTP API.
//   - Token: bearer token with the operator or admin role.
//   - Parallel: chunk requests in flight at once.
//   - Attempts / RetryDelay: per-chunk retry budget and initial backoff.
//   - RequestTimeout: limit for a single HTTP request.
//   - PollInterval: how often -wait polls processing status.
type Config struct {
	ServerURL      string
	Token          string
	Parallel       int
	Attempts       uint
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.Parallel = 4
	c.Attempts = 5
	c.RetryDelay = 500 * time.Millisecond
	c.RequestTimeout = 5 * time.Minute
	c.PollInterval = 3 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
