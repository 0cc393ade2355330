package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration for a Manta component, aggregated
// from a YAML file and environment variable overrides.
type Config struct {
	Logging        LoggingConfig        `yaml:"logging"`
	Broker         BrokerConfig         `yaml:"broker"`
	PayProc        PayProcConfig        `yaml:"payproc"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Service     string `yaml:"service"`     // service name attached to every log line
	Version     string `yaml:"version"`     // build/version tag attached to every log line
	Environment string `yaml:"environment"` // production, staging, development
}

// BrokerConfig holds MQTT broker connection settings shared by every Manta component.
type BrokerConfig struct {
	Host           string   `yaml:"host"`             // broker hostname, default "localhost"
	Port           int      `yaml:"port"`             // broker TCP port, default 1883
	ClientIDPrefix string   `yaml:"client_id_prefix"` // prefix used when minting MQTT client IDs
	ConnectTimeout Duration `yaml:"connect_timeout"`  // dial timeout for the initial connect
	KeepAlive      Duration `yaml:"keep_alive"`       // MQTT keep-alive interval
	AwaitTimeout   Duration `yaml:"await_timeout"`    // timeout for POS/Wallet suspension points (spec §5)
}

// PayProcConfig holds Payment Processor specific settings.
type PayProcConfig struct {
	KeyFile      string `yaml:"key_file"`      // PEM-encoded RSA private key
	CertFile     string `yaml:"cert_file"`     // optional PEM-encoded X.509 certificate
	StartingTXID int64  `yaml:"starting_txid"` // first txid minted by this PP instance
}

// CircuitBreakerConfig holds circuit breaker configuration for the broker connection.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"` // enable circuit breakers (default: true)
	Broker  BreakerServiceConfig `yaml:"broker"`  // broker connect/publish circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external dependency.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // max requests in half-open state (default: 1)
	Interval            Duration `yaml:"interval"`             // stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // minimum requests before checking ratio (default: 10)
}

// MetricsConfig controls the Prometheus metrics endpoint exposed by demo binaries.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. ":9090"
}
