package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/pressarchive/internal/flagx"
	"github.com/dmitrijs2005/pressarchive/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	ServerURL      string         `json:"server_url"`
	Token          string         `json:"token"`
	Parallel       int            `json:"parallel"`
	Attempts       uint           `json:"attempts"`
	RetryDelay     timex.Duration `json:"retry_delay"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	PollInterval   timex.Duration `json:"poll_interval"`
}

// parseJson overlays Config with values from the JSON file named by -c or
// -config. Absent keys keep their value; read or unmarshal errors panic.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.Token != "" {
		cfg.Token = jc.Token
	}
	if jc.Parallel > 0 {
		cfg.Parallel = jc.Parallel
	}
	if jc.Attempts > 0 {
		cfg.Attempts = jc.Attempts
	}
	if jc.RetryDelay.Duration > 0 {
		cfg.RetryDelay = jc.RetryDelay.Duration
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.PollInterval.Duration > 0 {
		cfg.PollInterval = jc.PollInterval.Duration
	}
}
