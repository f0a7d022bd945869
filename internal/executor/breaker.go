package executor

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docsense/internal/config"
	"docsense/internal/model"
)

// BreakerState is the current position of one circuit breaker
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// breaker is the failure/recovery state machine for one task kind.
type breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureAt       time.Time
}

// BreakerRegistry holds one circuit breaker per task kind. It is the single
// piece of process-wide mutable state shared across all documents. Each kind
// has its own lock, so different kinds never block each other.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[model.TaskKind]*breaker
	cfg      config.BreakerConfig
	now      func() time.Time
	onOpen   func(kind model.TaskKind)
}

// NewBreakerRegistry creates a registry with the given thresholds. onOpen is
// invoked (outside any lock) whenever a breaker trips open; it may be nil.
func NewBreakerRegistry(cfg config.BreakerConfig, onOpen func(model.TaskKind)) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[model.TaskKind]*breaker),
		cfg:      cfg,
		now:      time.Now,
		onOpen:   onOpen,
	}
}

// get returns the breaker for a kind, creating it closed on first use.
func (r *BreakerRegistry) get(kind model.TaskKind) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[kind]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[kind]; ok {
		return b
	}
	b = &breaker{state: StateClosed}
	r.breakers[kind] = b
	return b
}

// Allow reports whether a task of this kind may currently be attempted. An
// open breaker moves to half-open once the recovery timeout has elapsed
// since the last failure.
func (r *BreakerRegistry) Allow(kind model.TaskKind) bool {
	b := r.get(kind)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if r.now().Sub(b.lastFailureAt) >= r.cfg.RecoveryTimeout() {
			b.state = StateHalfOpen
			b.halfOpenSuccesses = 0
			log.Info().
				Str("kind", string(kind)).
				Msg("Circuit breaker half-open, probing recovery")
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful attempt for a kind.
func (r *BreakerRegistry) RecordSuccess(kind model.TaskKind) {
	b := r.get(kind)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= r.cfg.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			log.Info().
				Str("kind", string(kind)).
				Msg("Circuit breaker closed after successful recovery")
		}
	default:
		b.consecutiveFailures = 0
	}
}

// RecordFailure registers a failed attempt for a kind. Failures while
// half-open re-open immediately; consecutive failures while closed open the
// breaker once the threshold is reached.
func (r *BreakerRegistry) RecordFailure(kind model.TaskKind) {
	b := r.get(kind)

	b.mu.Lock()
	b.lastFailureAt = r.now()

	opened := false
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenSuccesses = 0
		opened = true
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= r.cfg.FailureThreshold {
			b.state = StateOpen
			opened = true
		}
	}
	b.mu.Unlock()

	if opened {
		log.Warn().
			Str("kind", string(kind)).
			Msg("Circuit breaker opened")
		if r.onOpen != nil {
			r.onOpen(kind)
		}
	}
}

// State returns the current state of a kind's breaker.
func (r *BreakerRegistry) State(kind model.TaskKind) BreakerState {
	b := r.get(kind)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
