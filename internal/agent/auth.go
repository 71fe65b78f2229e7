package agent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenState tracks the worker's current bearer token and its expiry, and
// decides when a refresh is due (§4.5.5).
type TokenState struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	skew      time.Duration
}

func NewTokenState(skew time.Duration) *TokenState {
	if skew <= 0 {
		skew = 60 * time.Second
	}
	return &TokenState{skew: skew}
}

// NeedsRefresh reports whether expires_at - skew has passed, or no token
// has been issued yet.
func (t *TokenState) NeedsRefresh() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" {
		return true
	}
	return time.Now().After(t.expiresAt.Add(-t.skew))
}

// Set installs a freshly issued token and its absolute expiry.
func (t *TokenState) Set(token string, expiresIn time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.expiresAt = time.Now().Add(expiresIn)
}

// Invalidate clears the current token, forcing the next NeedsRefresh check
// to report true. Called on a 401 response per §4.5.5.
func (t *TokenState) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}

func (t *TokenState) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// ensureFreshToken refreshes the token via issue if one is needed, and installs
// it on client. Called before every authenticated call.
func (a *Agent) ensureFreshToken(ctx context.Context) error {
	if !a.tokens.NeedsRefresh() {
		return nil
	}
	resp, err := a.client.IssueToken(ctx, a.cfg.BotKey, a.cfg.BootstrapSecret, a.cfg.ClientVersion)
	if err != nil {
		a.breakers.Register.RecordFailure()
		return err
	}
	a.breakers.Register.RecordSuccess()
	a.tokens.Set(resp.AccessToken, time.Duration(resp.ExpiresIn)*time.Second)
	a.client.SetToken(resp.AccessToken)
	return nil
}

// withAuthRetry runs call once, and on ErrUnauthorized invalidates the
// token, refreshes, and retries exactly once, per §4.5.5's "retries once;
// repeated 401 escalates through the registration breaker".
func (a *Agent) withAuthRetry(ctx context.Context, call func() error) error {
	if err := a.ensureFreshToken(ctx); err != nil {
		return err
	}
	err := call()
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	a.tokens.Invalidate()
	if refreshErr := a.ensureFreshToken(ctx); refreshErr != nil {
		return refreshErr
	}
	err = call()
	if errors.Is(err, ErrUnauthorized) {
		a.breakers.Register.RecordFailure()
	}
	return err
}
