// internal/execution/breaker_test.go
package execution

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbridge/internal/common/logger"
)

// fakeClock is a settable clock shared by breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  30 * time.Second,
	}
}

// ==========================
// Breaker State Tests
// ==========================

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("/api/v1/reservations", testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	for i := 0; i < 4; i++ {
		require.NoError(t, b.allow())
		b.recordFailure()
	}
	// four failures: still closed
	require.NoError(t, b.allow())
	b.recordFailure()

	// fifth failure trips it
	err := b.allow()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "CIRCUIT_OPEN"))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("/ep", testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	for i := 0; i < 4; i++ {
		b.recordFailure()
	}
	b.recordSuccess()

	// the streak restarts; four more failures don't trip it
	for i := 0; i < 4; i++ {
		b.recordFailure()
	}
	assert.NoError(t, b.allow())

	b.recordFailure()
	assert.Error(t, b.allow())
}

func TestBreaker_QuietWindowResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("/ep", testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	for i := 0; i < 4; i++ {
		b.recordFailure()
	}
	// the window expires before the next failure
	clock.Advance(2 * time.Minute)
	b.recordFailure()
	assert.NoError(t, b.allow())
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("/ep", testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	for i := 0; i < 5; i++ {
		b.recordFailure()
	}
	require.Error(t, b.allow())

	// not yet recovered
	clock.Advance(29 * time.Second)
	require.Error(t, b.allow())

	// recovery timeout elapsed: exactly one probe gets through
	clock.Advance(2 * time.Second)
	assert.NoError(t, b.allow())
	err := b.allow()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "CIRCUIT_OPEN"))
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("/ep", testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	for i := 0; i < 5; i++ {
		b.recordFailure()
	}
	clock.Advance(31 * time.Second)
	require.NoError(t, b.allow())
	b.recordSuccess()

	// fully closed again, no probe gating
	assert.NoError(t, b.allow())
	assert.NoError(t, b.allow())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("/ep", testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	for i := 0; i < 5; i++ {
		b.recordFailure()
	}
	clock.Advance(31 * time.Second)
	require.NoError(t, b.allow())
	b.recordFailure()

	// reopened with a fresh recovery window
	require.Error(t, b.allow())
	clock.Advance(29 * time.Second)
	require.Error(t, b.allow())
	clock.Advance(2 * time.Second)
	assert.NoError(t, b.allow())
}

func TestBreaker_OpenErrorCarriesRetryAfter(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("/ep", testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	for i := 0; i < 5; i++ {
		b.recordFailure()
	}
	clock.Advance(10 * time.Second)

	err := b.allow()
	require.Error(t, err)
	// 20s of the 30s recovery timeout remain
	assert.True(t, strings.Contains(err.Error(), "CIRCUIT_OPEN"))
}

// ==========================
// Breaker Set Tests
// ==========================

func TestBreakerSet_IsolatesEndpoints(t *testing.T) {
	clock := newFakeClock()
	set := newBreakerSet(testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	a := set.forEndpoint("/api/v1/reservations")
	for i := 0; i < 5; i++ {
		a.recordFailure()
	}

	assert.Error(t, set.forEndpoint("/api/v1/reservations").allow())
	assert.NoError(t, set.forEndpoint("/api/v1/maintenance").allow())
}

func TestBreakerSet_ReturnsSameBreakerPerEndpoint(t *testing.T) {
	clock := newFakeClock()
	set := newBreakerSet(testBreakerConfig(), clock.Now, logger.NewTestLogger(t))

	assert.Same(t, set.forEndpoint("/ep"), set.forEndpoint("/ep"))
}
