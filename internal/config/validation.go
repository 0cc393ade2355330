package config

import (
	"fmt"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Broker.Host == "" {
		c.Broker.Host = "localhost"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 1883
	}
	if c.Broker.ClientIDPrefix == "" {
		c.Broker.ClientIDPrefix = "manta"
	}
	if c.Broker.AwaitTimeout.Duration == 0 {
		c.Broker.AwaitTimeout.Duration = 3 * time.Second
	}

	return c.validate()
}

// validate checks structural invariants that defaults cannot paper over.
func (c *Config) validate() error {
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("config: invalid broker port %d", c.Broker.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: invalid logging format %q", c.Logging.Format)
	}
	if c.PayProc.StartingTXID < 0 {
		return fmt.Errorf("config: starting_txid must be non-negative, got %d", c.PayProc.StartingTXID)
	}
	return nil
}
