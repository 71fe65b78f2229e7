package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/coordinator"
	"github.com/jobmesh/platform/internal/pkg/httpx"
	"github.com/jobmesh/platform/internal/platform/logger"
)

// Agent is the worker process's event loop. All state transitions happen
// on the goroutine running Run. The heartbeat and watchdog tasks are
// separate goroutines that signal the loop through the events channel; the
// heartbeat task also makes its own coordinator calls (which may refresh
// the token), runs health reprobes, and is the only writer of
// heartbeatFailures. state and stateEnteredAt are guarded by stateMu, and
// the breakers and TokenState carry their own mutexes.
type Agent struct {
	cfg      Config
	client   *Client
	tokens   *TokenState
	breakers *BreakerSet
	log      *logger.Logger

	botID      uuid.UUID
	instanceID string

	// stateMu guards state and stateEnteredAt: all mutation happens on
	// the Run goroutine, but the watchdog and heartbeat tasks read them
	// concurrently to decide whether to act.
	stateMu        sync.RWMutex
	state          State
	stateEnteredAt time.Time

	events chan Event
	rng    *rand.Rand

	registerAttempts  int
	totalAttempts     int
	probeFailures     int
	heartbeatFailures int

	sessionHeartbeatInterval time.Duration
	assignedOperation        *string
	currentJob               *coordinator.JobView
}

func NewAgent(cfg Config, log *logger.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		client:   NewClient(cfg.CoordinatorBaseURL, cfg.CallTimeout, log),
		tokens:   NewTokenState(cfg.TokenRefreshSkew),
		breakers: NewBreakerSet(cfg),
		log:      log.With("component", "agent.Agent", "bot_key", cfg.BotKey),
		state:    StateInitializing,
		instanceID: uuid.New().String(),
		events:   make(chan Event, 16),
		rng:      rand.New(rand.NewSource(1)),
	}
}

// Run drives the worker through its full lifecycle until ctx is cancelled
// or the state machine reaches stopped. It returns nil on a clean shutdown
// and an error only if the worker stops via attempts-exhausted.
func (a *Agent) Run(ctx context.Context) error {
	defer a.client.Close()
	a.enterState(StateInitializing)

	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go a.watchdogTask(watchdogCtx)

	var heartbeatCancel context.CancelFunc
	stopHeartbeat := func() {
		if heartbeatCancel != nil {
			heartbeatCancel()
			heartbeatCancel = nil
		}
	}
	defer stopHeartbeat()

	a.advance(EventBackoffElapsed)

	for {
		select {
		case <-ctx.Done():
			return a.shutdown(stopHeartbeat)
		default:
		}

		switch a.currentState() {
		case StateRegistering:
			if err := a.doRegister(ctx); err != nil {
				a.log.Warn("registration failed", "attempt", a.registerAttempts, "retryable", httpx.IsRetryableError(err), "error", err)
				a.totalAttempts++
				if a.totalAttempts >= a.cfg.MaxStartupAttempts {
					a.advance(EventRegisterRetriesExceeded)
					a.advance(EventAttemptsExhausted)
					return fmt.Errorf("agent: startup attempts exhausted: %w", err)
				}
				a.sleepBackoff(ctx, a.registerAttempts)
				continue
			}
			a.registerAttempts = 0
			a.probeFailures = 0
			a.advance(EventRegisterOK)

		case StateHealthCheck:
			if err := a.runHealthProbes(ctx); err != nil {
				a.probeFailures++
				a.log.Warn("health probe failed", "consecutive_failures", a.probeFailures, "error", err)
				if a.probeFailures >= a.cfg.HealthProbeFailureLimit {
					a.probeFailures = 0
					a.advance(EventProbesFailedThrice)
					continue
				}
				time.Sleep(a.cfg.BackoffBase)
				continue
			}
			a.advance(EventProbesPassed)
			heartbeatCtx, cancel := context.WithCancel(ctx)
			heartbeatCancel = cancel
			go a.heartbeatTask(heartbeatCtx)

		case StateReady:
			result, err := a.pollClaim(ctx)
			if err != nil {
				if a.handleBreakerEscalation(ctx, stopHeartbeat) {
					continue
				}
				time.Sleep(a.cfg.BackoffBase)
				continue
			}
			if !result.Found {
				time.Sleep(a.cfg.BackoffBase)
				continue
			}
			a.currentJob = &result.Job
			a.advance(EventJobClaimed)

		case StateProcessing:
			a.runJob(ctx)
			a.currentJob = nil
			a.advance(EventJobTerminated)

		case StateError:
			stopHeartbeat()
			a.totalAttempts++
			if a.totalAttempts >= a.cfg.MaxStartupAttempts {
				a.advance(EventAttemptsExhausted)
				return errors.New("agent: attempts exhausted after entering error state")
			}
			a.sleepBackoff(ctx, a.totalAttempts)
			a.advance(EventBackoffElapsed)

		case StateShuttingDown:
			return a.shutdown(stopHeartbeat)

		case StateStopped:
			return nil
		}

		select {
		case ev := <-a.events:
			a.applyExternalEvent(ctx, ev, stopHeartbeat)
		default:
		}
	}
}

// applyExternalEvent handles events raised by the watchdog or heartbeat
// tasks rather than by the main loop's own call outcomes.
func (a *Agent) applyExternalEvent(ctx context.Context, ev Event, stopHeartbeat func()) {
	switch ev {
	case EventPhaseTimeout:
		a.log.Warn("phase watchdog fired", "state", a.currentState())
		a.advance(EventPhaseTimeout)
	case EventBreakerTripped:
		a.handleBreakerEscalation(ctx, stopHeartbeat)
	case EventShutdownSignal:
		a.advance(EventShutdownSignal)
	}
}

func (a *Agent) enterState(s State) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.state = s
	a.stateEnteredAt = time.Now()
}

// currentState is safe to call from the watchdog and heartbeat goroutines.
func (a *Agent) currentState() State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

func (a *Agent) timeInState() time.Duration {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return time.Since(a.stateEnteredAt)
}

// advance drives Transition with ev and applies the resulting state,
// logging old -> new per §4.5.1's "all logged with old -> new". A rejected
// event (one the current state doesn't accept) is logged and otherwise
// ignored, since every call site already gates on the condition the
// transition table requires.
func (a *Agent) advance(ev Event) {
	from := a.currentState()
	to, err := Transition(from, ev)
	if err != nil {
		a.log.Warn("agent rejected state transition", "from", from, "event", ev, "error", err)
		return
	}
	if from == to {
		return
	}
	a.log.Info("agent state transition", "from", from, "to", to, "event", ev)
	a.enterState(to)
}

// sleepBackoff implements delay = min(base * expo^(attempt-1), max), jittered
// by +/-20% so a coordinator restart doesn't regroup every worker's retry
// onto the same tick.
func (a *Agent) sleepBackoff(ctx context.Context, attempt int) {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(a.cfg.BackoffBase) * math.Pow(a.cfg.BackoffExpo, float64(attempt-1)))
	if delay > a.cfg.BackoffMax {
		delay = a.cfg.BackoffMax
	}
	delay = httpx.JitterSleep(delay)
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// handleBreakerEscalation reprobes health when a breaker is open; on
// reprobe failure it transitions to error, per §4.5.4's heartbeat-failure
// escalation and §4.5.1's "ready|processing -> error (heartbeat breaker
// opens and health reprobe fails)". Returns true if the caller's current
// iteration should be abandoned (a transition occurred).
func (a *Agent) handleBreakerEscalation(ctx context.Context, stopHeartbeat func()) bool {
	if err := a.runHealthProbes(ctx); err != nil {
		stopHeartbeat()
		a.advance(EventBreakerTripped)
		return true
	}
	return false
}

func (a *Agent) shutdown(stopHeartbeat func()) error {
	a.advance(EventShutdownSignal)
	stopHeartbeat()
	if a.currentJob != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
		defer cancel()
		_ = a.client.Fail(shutdownCtx, mustParseUUID(a.currentJob.ID), a.botID, "Bot terminated", 0)
		a.currentJob = nil
	}
	a.advance(EventStopped)
	return nil
}

func mustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
