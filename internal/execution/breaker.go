// Package execution submits approved payloads to the fleet system, guarded by
// a per-endpoint circuit breaker.
package execution

import (
	"sync"
	"time"

	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/common/metrics"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateHalfOpen
	stateOpen
)

// BreakerConfig tunes one breaker. Threshold counts consecutive failures
// inside the rolling window; a success or a quiet window resets the count.
type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	RecoveryTimeout  time.Duration
}

// breaker guards one endpoint. Each breaker has its own lock so a tripped
// endpoint never slows the others down.
type breaker struct {
	mu sync.Mutex

	config   BreakerConfig
	endpoint string
	clock    func() time.Time
	logger   logger.Logger

	state        breakerState
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	probing      bool
}

func newBreaker(endpoint string, config BreakerConfig, clock func() time.Time, log logger.Logger) *breaker {
	b := &breaker{
		config:   config,
		endpoint: endpoint,
		clock:    clock,
		logger:   log,
	}
	metrics.BreakerState.WithLabelValues(endpoint).Set(float64(stateClosed))
	return b
}

// allow gates one call. When open past the recovery timeout, exactly one
// caller gets through as the half-open probe; everyone else still sees
// CIRCUIT_OPEN until the probe reports back.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.config.RecoveryTimeout {
			return errors.NewCircuitOpenError(b.endpoint, b.config.RecoveryTimeout-elapsed)
		}
		b.setState(stateHalfOpen)
		b.probing = true
		b.logger.Info("breaker half-open, probing", map[string]interface{}{
			"endpoint": b.endpoint,
		})
		return nil
	case stateHalfOpen:
		if b.probing {
			return errors.NewCircuitOpenError(b.endpoint, b.config.RecoveryTimeout)
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.logger.Info("breaker closed after successful probe", map[string]interface{}{
			"endpoint": b.endpoint,
		})
	}
	b.setState(stateClosed)
	b.failures = 0
	b.probing = false
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	if b.state == stateHalfOpen {
		// failed probe; back to open with a fresh recovery window
		b.setState(stateOpen)
		b.openedAt = now
		b.probing = false
		b.logger.Warn("breaker probe failed, reopening", map[string]interface{}{
			"endpoint": b.endpoint,
		})
		return
	}

	if b.failures == 0 || now.Sub(b.firstFailure) > b.config.FailureWindow {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++

	if b.failures >= b.config.FailureThreshold {
		b.setState(stateOpen)
		b.openedAt = now
		b.logger.Warn("breaker opened", map[string]interface{}{
			"endpoint": b.endpoint,
			"failures": b.failures,
			"window":   b.config.FailureWindow.String(),
		})
	}
}

func (b *breaker) setState(s breakerState) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.endpoint).Set(float64(s))
}

// breakerSet lazily creates one breaker per endpoint.
type breakerSet struct {
	mu       sync.Mutex
	config   BreakerConfig
	clock    func() time.Time
	logger   logger.Logger
	breakers map[string]*breaker
}

func newBreakerSet(config BreakerConfig, clock func() time.Time, log logger.Logger) *breakerSet {
	return &breakerSet{
		config:   config,
		clock:    clock,
		logger:   log,
		breakers: make(map[string]*breaker),
	}
}

func (s *breakerSet) forEndpoint(endpoint string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[endpoint]
	if !ok {
		b = newBreaker(endpoint, s.config, s.clock, s.logger)
		s.breakers[endpoint] = b
	}
	return b
}
