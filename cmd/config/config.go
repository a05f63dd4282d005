package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the coordinator
type Config struct {
	// Server configuration
	Port int `envconfig:"PORT" default:"10800"`

	// How long a dispatched command waits for the page's result frame
	// before the outcome is logged as lost.
	CommandAckTimeout time.Duration `envconfig:"COMMAND_ACK_TIMEOUT" default:"5s"`

	// Comma-separated glob patterns matched against the page URL from the
	// handshake. Empty admits every page.
	PageURLAllow []string `envconfig:"PAGE_URL_ALLOW"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("PORT must be a valid port number")
	}
	if config.CommandAckTimeout <= 0 {
		return fmt.Errorf("COMMAND_ACK_TIMEOUT must be greater than 0")
	}

	return nil
}
