// Package circuitbreaker guards the single external dependency a Manta
// component has: the broker connection. A flapping broker cannot be allowed
// to cascade into unbounded reconnect/publish retry storms.
package circuitbreaker

import (
	"errors"
	"log"
	"time"

	"github.com/CedrosPay/manta/internal/config"
	mantaerrors "github.com/CedrosPay/manta/internal/errors"
	"github.com/sony/gobreaker"
)

// ServiceType identifies an external dependency for circuit breaker isolation.
type ServiceType string

// ServiceBroker is the only external dependency the core protocol engine has.
const ServiceBroker ServiceType = "broker"

// Manager manages circuit breakers for external dependencies. Bulkhead
// isolation keeps this shaped as a map even though only one service is
// wired today, so a future persistent txstore backend can register its own
// breaker without reshaping the type.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all guarded dependencies.
type Config struct {
	Enabled bool
	Broker  BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears. Default: 60s
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// ReadyToTrip trips the breaker on consecutive failures or a failure ratio
	// once a minimum request volume has been observed.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled: cfg.Enabled,
		Broker: BreakerConfig{
			MaxRequests:         cfg.Broker.MaxRequests,
			Interval:            cfg.Broker.Interval.Duration,
			Timeout:             cfg.Broker.Timeout.Duration,
			ConsecutiveFailures: cfg.Broker.ConsecutiveFailures,
			FailureRatio:        cfg.Broker.FailureRatio,
			MinRequests:         cfg.Broker.MinRequests,
		},
	})
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceBroker] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceBroker), cfg.Broker))

	return m
}

// Execute wraps a function call with circuit breaker protection.
// If circuit breakers are disabled or not configured for the service, it executes directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
// Returns "disabled" if circuit breakers are not enabled or the service is not found.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		// A protocol error that is not retryable is not a sign of a failing
		// broker, so it does not count towards a trip.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var mErr *mantaerrors.Error
			if errors.As(err, &mErr) {
				return !mErr.Code.IsRetryable()
			}
			return false
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}

			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuitbreaker: %s %s -> %s", name, from.String(), to.String())
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Broker: BreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
	}
}
