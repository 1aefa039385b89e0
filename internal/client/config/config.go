// Package config loads settings for the vault command-line client.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file named by -c or -config.
//  3. Command-line flags.
//
// Flags
//
//	-a string   base URL of the vault server
//	-T string   bearer JWT sent with authenticated requests
//	-r int      request timeout (seconds)
//
// JSON
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "auth_token": "eyJ...",
//	  "request_timeout": "30s"
//	}
package config

import "time"

type Config struct {
	ServerURL      string
	AuthToken      string
	RequestTimeout time.Duration
}

func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.AuthToken = ""
	c.RequestTimeout = 30 * time.Second
}

// LoadConfig applies defaults, then the JSON file, then flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
