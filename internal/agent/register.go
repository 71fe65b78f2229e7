package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/coordinator"
)

// doRegister issues (or refreshes) the worker's token, then calls
// /v1/bots/register. A fresh idempotency key is minted per attempt: a
// retried registration after a timeout should be safe to resend, and the
// coordinator's idempotency cache only matters for true network retries
// the HTTP client itself might perform, not for worker-level backoff
// retries that represent a new attempt.
func (a *Agent) doRegister(ctx context.Context) error {
	a.registerAttempts++
	if !a.breakers.Register.CanExecute() {
		return errBreakerOpen("register")
	}

	var resp *coordinator.RegisterResponse
	err := a.withAuthRetry(ctx, func() error {
		var callErr error
		resp, callErr = a.client.Register(ctx, coordinator.RegisterRequest{
			BotKey:     a.cfg.BotKey,
			InstanceID: a.instanceID,
			Agent: coordinator.AgentInfo{
				Version:  a.cfg.ClientVersion,
				Platform: a.cfg.Platform,
			},
			Capabilities: coordinator.Capabilities{
				Operations:     a.cfg.Capabilities,
				MaxConcurrency: a.cfg.MaxConcurrency,
			},
		}, uuid.New().String())
		return callErr
	})
	if err != nil {
		a.breakers.Register.RecordFailure()
		return err
	}
	a.breakers.Register.RecordSuccess()

	botID, parseErr := uuid.Parse(resp.BotID)
	if parseErr != nil {
		return parseErr
	}
	a.botID = botID
	a.assignedOperation = resp.Assignment.Operation
	a.sessionHeartbeatInterval = time.Duration(resp.Session.HeartbeatIntervalSec) * time.Second
	if a.sessionHeartbeatInterval <= 0 {
		a.sessionHeartbeatInterval = 10 * time.Second
	}
	return nil
}

// pollClaim is the job task's claim half (§4.5.4).
func (a *Agent) pollClaim(ctx context.Context) (*ClaimResult, error) {
	if !a.breakers.Claim.CanExecute() {
		return nil, errBreakerOpen("claim")
	}
	var result *ClaimResult
	err := a.withAuthRetry(ctx, func() error {
		var callErr error
		result, callErr = a.client.Claim(ctx, a.botID)
		return callErr
	})
	if err != nil {
		a.breakers.Claim.RecordFailure()
		return nil, err
	}
	a.breakers.Claim.RecordSuccess()
	return result, nil
}

// runJob implements the job task's body once a claim has succeeded: start,
// simulate (or run) the operation, then report completion or failure. A
// failed start call or a failed operation is reported with fail() carrying
// the error message. A failed complete call is only logged, and a claimed
// job whose id does not parse is logged and not reported at all.
func (a *Agent) runJob(ctx context.Context) {
	job := a.currentJob
	jobID, err := uuid.Parse(job.ID)
	if err != nil {
		a.log.Error("claimed job has unparseable id", "job_id", job.ID, "error", err)
		return
	}

	if err := a.reportBreaker(func() error {
		return a.withAuthRetry(ctx, func() error { return a.client.Start(ctx, jobID, a.botID) })
	}); err != nil {
		a.log.Warn("job start call failed, reporting fail best-effort", "job_id", job.ID, "error", err)
		a.reportFailBestEffort(ctx, jobID, err.Error(), 0)
		return
	}

	started := time.Now()
	value, runErr := a.execute(ctx, job)
	duration := time.Since(started)

	if runErr != nil {
		a.reportFailBestEffort(ctx, jobID, runErr.Error(), duration)
		return
	}

	if err := a.reportBreaker(func() error {
		return a.withAuthRetry(ctx, func() error { return a.client.Complete(ctx, jobID, a.botID, value, duration) })
	}); err != nil {
		a.log.Warn("job complete call failed", "job_id", job.ID, "error", err)
	}
}

// execute runs the job's operation. In "simulated" mode (the default,
// matching the liveness-harness framing of §4.4's auto-populate jobs) it
// sleeps for a configured delay and then rolls FailureProbability; in
// "real" mode it invokes the named operation from the registry.
func (a *Agent) execute(ctx context.Context, job *coordinator.JobView) (int, error) {
	if a.cfg.ProcessingMode == "real" {
		return a.invokeOperation(job)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(a.cfg.SimulatedProcessingDelay):
	}
	if a.cfg.FailureProbability > 0 && a.rng.Float64() < a.cfg.FailureProbability {
		return 0, errSimulatedFailure
	}
	return a.invokeOperation(job)
}

// invokeOperation calls the named registry function, converting a panic
// inside it into a job failure rather than letting it take down the worker
// process, per the worker-side "misbehaving operation fails the job"
// contract.
func (a *Agent) invokeOperation(job *coordinator.JobView) (value int, err error) {
	fn, ok := operationByName(job.Operation)
	if !ok {
		return 0, unknownOperationError(job.Operation)
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("operation panicked", "operation", job.Operation, "panic", r)
			err = fmt.Errorf("agent: operation %q panicked: %v", job.Operation, r)
		}
	}()
	return fn(job.A, job.B)
}

func (a *Agent) reportFailBestEffort(ctx context.Context, jobID uuid.UUID, message string, duration time.Duration) {
	err := a.reportBreaker(func() error {
		return a.withAuthRetry(ctx, func() error { return a.client.Fail(ctx, jobID, a.botID, message, duration) })
	})
	if err != nil {
		a.log.Error("failed to report job failure to coordinator", "job_id", jobID, "error", err)
	}
}

func (a *Agent) reportBreaker(call func() error) error {
	if !a.breakers.Report.CanExecute() {
		return errBreakerOpen("report")
	}
	if err := call(); err != nil {
		a.breakers.Report.RecordFailure()
		return err
	}
	a.breakers.Report.RecordSuccess()
	return nil
}
