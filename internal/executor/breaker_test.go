package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"docsense/internal/config"
	"docsense/internal/model"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold:       3,
		RecoveryTimeoutSeconds: 30,
		SuccessThreshold:       2,
	}
}

// fakeClock drives breaker recovery timing without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(onOpen func(model.TaskKind)) (*BreakerRegistry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewBreakerRegistry(testBreakerConfig(), onOpen)
	r.now = clock.now
	return r, clock
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r, _ := newTestRegistry(nil)

	r.RecordFailure(model.KindOCR)
	r.RecordFailure(model.KindOCR)
	assert.Equal(t, StateClosed, r.State(model.KindOCR))
	assert.True(t, r.Allow(model.KindOCR))

	r.RecordFailure(model.KindOCR)
	assert.Equal(t, StateOpen, r.State(model.KindOCR))
	assert.False(t, r.Allow(model.KindOCR))
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	r, _ := newTestRegistry(nil)

	r.RecordFailure(model.KindOCR)
	r.RecordFailure(model.KindOCR)
	r.RecordSuccess(model.KindOCR)
	r.RecordFailure(model.KindOCR)
	r.RecordFailure(model.KindOCR)

	// Streak was broken, so four total failures never reach the threshold.
	assert.Equal(t, StateClosed, r.State(model.KindOCR))
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	r, clock := newTestRegistry(nil)

	for i := 0; i < 3; i++ {
		r.RecordFailure(model.KindModelAnalysis)
	}
	assert.False(t, r.Allow(model.KindModelAnalysis))

	clock.advance(29 * time.Second)
	assert.False(t, r.Allow(model.KindModelAnalysis))

	clock.advance(time.Second)
	assert.True(t, r.Allow(model.KindModelAnalysis))
	assert.Equal(t, StateHalfOpen, r.State(model.KindModelAnalysis))
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	r, clock := newTestRegistry(nil)

	for i := 0; i < 3; i++ {
		r.RecordFailure(model.KindModelAnalysis)
	}
	clock.advance(30 * time.Second)
	assert.True(t, r.Allow(model.KindModelAnalysis))

	r.RecordSuccess(model.KindModelAnalysis)
	assert.Equal(t, StateHalfOpen, r.State(model.KindModelAnalysis))

	r.RecordSuccess(model.KindModelAnalysis)
	assert.Equal(t, StateClosed, r.State(model.KindModelAnalysis))
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	r, clock := newTestRegistry(nil)

	for i := 0; i < 3; i++ {
		r.RecordFailure(model.KindEntityExtract)
	}
	clock.advance(30 * time.Second)
	assert.True(t, r.Allow(model.KindEntityExtract))

	// A single failure while probing re-opens immediately.
	r.RecordFailure(model.KindEntityExtract)
	assert.Equal(t, StateOpen, r.State(model.KindEntityExtract))
	assert.False(t, r.Allow(model.KindEntityExtract))

	// And the recovery window restarts from that failure.
	clock.advance(30 * time.Second)
	assert.True(t, r.Allow(model.KindEntityExtract))
}

func TestBreakersAreIndependentPerKind(t *testing.T) {
	r, _ := newTestRegistry(nil)

	for i := 0; i < 3; i++ {
		r.RecordFailure(model.KindOCR)
	}

	assert.False(t, r.Allow(model.KindOCR))
	assert.True(t, r.Allow(model.KindModelAnalysis))
	assert.True(t, r.Allow(model.KindEntityExtract))
}

func TestBreakerOnOpenCallback(t *testing.T) {
	var opened []model.TaskKind
	r, clock := newTestRegistry(func(kind model.TaskKind) {
		opened = append(opened, kind)
	})

	for i := 0; i < 3; i++ {
		r.RecordFailure(model.KindOCR)
	}
	assert.Equal(t, []model.TaskKind{model.KindOCR}, opened)

	// Re-opening from half-open fires again.
	clock.advance(30 * time.Second)
	r.Allow(model.KindOCR)
	r.RecordFailure(model.KindOCR)
	assert.Equal(t, []model.TaskKind{model.KindOCR, model.KindOCR}, opened)
}
