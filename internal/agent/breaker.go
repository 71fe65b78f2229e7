package agent

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states (§4.5.3).
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a single remote-call-class circuit breaker, purely local to
// the worker process. The worker holds four independent instances, one per
// call class (register, heartbeat, claim, report).
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	halfOpenInFlight int
}

func NewBreaker(failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	if halfOpenMaxCalls <= 0 {
		halfOpenMaxCalls = 3
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		state:            BreakerClosed,
	}
}

// CanExecute reports whether a call may proceed, advancing open -> half_open
// when recoveryTimeout has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.state = BreakerHalfOpen
			b.halfOpenInFlight = 0
			return b.admitHalfOpenLocked()
		}
		return false
	case BreakerHalfOpen:
		return b.admitHalfOpenLocked()
	}
	return false
}

func (b *Breaker) admitHalfOpenLocked() bool {
	if b.halfOpenInFlight >= b.halfOpenMaxCalls {
		return false
	}
	b.halfOpenInFlight++
	return true
}

// RecordSuccess resets a closed breaker's failure counter, or closes a
// half-open breaker entirely.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.consecutiveFail = 0
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.consecutiveFail = 0
		b.halfOpenInFlight = 0
	}
}

// RecordFailure increments a closed breaker's failure counter, tripping it
// open at the threshold, or immediately reopens a half-open breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.failureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.consecutiveFail = 0
	b.halfOpenInFlight = 0
}

// State returns the breaker's current state for logging and diagnostics.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet groups the four remote-call-class breakers the worker holds,
// one each for register, heartbeat, claim, and report (start/complete/fail
// share the report breaker per §4.5.3).
type BreakerSet struct {
	Register  *Breaker
	Heartbeat *Breaker
	Claim     *Breaker
	Report    *Breaker
}

func NewBreakerSet(cfg Config) *BreakerSet {
	newBreaker := func() *Breaker {
		return NewBreaker(cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout, cfg.BreakerHalfOpenMaxCalls)
	}
	return &BreakerSet{
		Register:  newBreaker(),
		Heartbeat: newBreaker(),
		Claim:     newBreaker(),
		Report:    newBreaker(),
	}
}
