package agent

import (
	"context"
	"time"
)

// watchdogTask monitors time-in-state and raises EventPhaseTimeout when a
// phase runs longer than its allotted budget (§4.5.1: registering > 5m,
// health_check > 3m). It never mutates state directly; it only signals
// through a.events so the main loop remains the sole state mutator.
func (a *Agent) watchdogTask(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := a.currentState()
			elapsed := a.timeInState()
			switch state {
			case StateRegistering:
				if elapsed > a.cfg.RegisteringTimeout {
					a.sendEvent(EventPhaseTimeout)
				}
			case StateHealthCheck:
				if elapsed > a.cfg.HealthCheckTimeout {
					a.sendEvent(EventPhaseTimeout)
				}
			}
		}
	}
}

// sendEvent delivers ev to the main loop without blocking the sender; a
// full buffer means an equivalent event is already pending.
func (a *Agent) sendEvent(ev Event) {
	select {
	case a.events <- ev:
	default:
	}
}
