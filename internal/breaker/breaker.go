// Package breaker builds the circuit breakers wrapped around outbound calls.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/launchkit-dev/launchkit/internal/metrics"
)

// Settings tunes a breaker. Zero values take the defaults noted per field.
type Settings struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening; default 5
	MaxRequests      uint32        // probes allowed while half-open; default 1
	Interval         time.Duration // closed-state count reset; default 60s
	Timeout          time.Duration // open-state duration; default 30s

	// IsSuccessful classifies results. Errors it accepts do not count
	// toward tripping. Nil means only a nil error succeeds.
	IsSuccessful func(err error) bool
}

// New returns a breaker that logs and exports its state transitions.
func New(s Settings, logger *slog.Logger) *gobreaker.CircuitBreaker[any] {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval == 0 {
		s.Interval = 60 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	threshold := s.FailureThreshold

	metrics.BreakerState.WithLabelValues(s.Name).Set(float64(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: s.IsSuccessful,
	})
}
