package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use MANTA_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Logging config
	setIfEnv(&c.Logging.Level, "MANTA_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "MANTA_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "MANTA_ENVIRONMENT")

	// Broker config
	setIfEnv(&c.Broker.Host, "MANTA_BROKER_HOST")
	setIntIfEnv(&c.Broker.Port, "MANTA_BROKER_PORT")
	setIfEnv(&c.Broker.ClientIDPrefix, "MANTA_BROKER_CLIENT_ID_PREFIX")
	setDurationIfEnv(&c.Broker.ConnectTimeout, "MANTA_BROKER_CONNECT_TIMEOUT")
	setDurationIfEnv(&c.Broker.KeepAlive, "MANTA_BROKER_KEEP_ALIVE")
	setDurationIfEnv(&c.Broker.AwaitTimeout, "MANTA_BROKER_AWAIT_TIMEOUT")

	// PayProc config
	setIfEnv(&c.PayProc.KeyFile, "MANTA_PAYPROC_KEY_FILE")
	setIfEnv(&c.PayProc.CertFile, "MANTA_PAYPROC_CERT_FILE")
	if v := os.Getenv("MANTA_PAYPROC_STARTING_TXID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.PayProc.StartingTXID = n
		}
	}

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "MANTA_CIRCUIT_BREAKER_ENABLED")

	// Metrics config
	setBoolIfEnv(&c.Metrics.Enabled, "MANTA_METRICS_ENABLED")
	setIfEnv(&c.Metrics.Address, "MANTA_METRICS_ADDRESS")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
