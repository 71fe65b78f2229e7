package agent

import (
	"context"
	"time"
)

// heartbeatTask runs while the worker is in ready or processing, sending a
// heartbeat every sessionHeartbeatInterval (§4.5.4). Five consecutive
// failures (network error or breaker-open) trigger a synchronous health
// reprobe; reprobe failure escalates to the main loop via
// EventBreakerTripped, which the loop turns into the error-state
// transition (§4.5.1's "heartbeat breaker opens and health reprobe
// fails").
func (a *Agent) heartbeatTask(ctx context.Context) {
	interval := a.sessionHeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := a.currentState()
			if state != StateReady && state != StateProcessing {
				continue
			}
			if err := a.sendHeartbeat(ctx); err != nil {
				a.heartbeatFailures++
				a.log.Warn("heartbeat failed", "consecutive_failures", a.heartbeatFailures, "error", err)
				if a.heartbeatFailures >= a.cfg.HeartbeatFailureLimit {
					a.heartbeatFailures = 0
					if probeErr := a.runHealthProbes(ctx); probeErr != nil {
						a.sendEvent(EventBreakerTripped)
					}
				}
				continue
			}
			a.heartbeatFailures = 0
		}
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) error {
	if !a.breakers.Heartbeat.CanExecute() {
		return errBreakerOpen("heartbeat")
	}
	err := a.withAuthRetry(ctx, func() error { return a.client.Heartbeat(ctx, a.botID) })
	if err != nil {
		a.breakers.Heartbeat.RecordFailure()
		return err
	}
	a.breakers.Heartbeat.RecordSuccess()
	return nil
}
