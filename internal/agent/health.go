package agent

import "context"

// runHealthProbes executes the three probes from §4.5.2, in order, short
// circuiting on the first failure. All three must succeed for the worker to
// become ready.
func (a *Agent) runHealthProbes(ctx context.Context) error {
	if err := a.probeRegistrationVisible(ctx); err != nil {
		return err
	}
	if err := a.client.Healthz(ctx); err != nil {
		return err
	}
	if err := a.client.MetricsShapeOK(ctx); err != nil {
		return err
	}
	return nil
}

// probeRegistrationVisible checks the worker's own bot_id appears in the
// coordinator's worker listing, probe #1.
func (a *Agent) probeRegistrationVisible(ctx context.Context) error {
	bots, err := a.client.ListBots(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		if b.ID == a.botID.String() {
			return nil
		}
	}
	return errRegistrationNotVisible
}

var errRegistrationNotVisible = &probeError{"bot_id not present in coordinator's worker listing"}

type probeError struct{ msg string }

func (e *probeError) Error() string { return e.msg }
