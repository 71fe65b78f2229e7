package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/coordinator"
	"github.com/jobmesh/platform/internal/platform/logger"
)

// ErrUnauthorized is returned by every Client method on a 401 response, so
// withAuthRetry (auth.go) can distinguish "token needs refresh" from any
// other failure.
var ErrUnauthorized = fmt.Errorf("agent: coordinator returned 401")

// statusError wraps a non-2xx HTTP response and satisfies httpx.HTTPStatusCoder,
// so callers can tell a transient 503 from a permanent 400 without string
// matching the error text.
type statusError struct {
	method, path string
	status       int
	body         string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("agent: %s %s returned %d: %s", e.method, e.path, e.status, e.body)
}

func (e *statusError) HTTPStatusCode() int { return e.status }

// Client is the worker's HTTP surface to the coordinator, the teacher's
// sendgrid.client shape (net/http.Client + fixed base URL + bearer header)
// generalized from a single external API to the coordinator's own API.
type Client struct {
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		log:        log.With("component", "agent.Client"),
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// SetToken installs the bearer token used on every subsequent authenticated
// call. Called once at startup and again after every refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) IssueToken(ctx context.Context, botKey, bootstrapSecret, clientVersion string) (*coordinator.TokenResponse, error) {
	var resp coordinator.TokenResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/token", coordinator.TokenRequest{
		BotKey:          botKey,
		BootstrapSecret: bootstrapSecret,
	}, &resp, func(r *http.Request) {
		if clientVersion != "" {
			r.Header.Set("X-Client-Version", clientVersion)
		}
	}, false)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, req coordinator.RegisterRequest, idempotencyKey string) (*coordinator.RegisterResponse, error) {
	var resp coordinator.RegisterResponse
	err := c.do(ctx, http.MethodPost, "/v1/bots/register", req, &resp, func(r *http.Request) {
		r.Header.Set("Idempotency-Key", idempotencyKey)
	}, true)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Heartbeat(ctx context.Context, botID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/bots/heartbeat", coordinator.HeartbeatRequest{BotID: botID.String()}, nil, nil, false)
}

// ClaimResult carries either a claimed job or the no-job-available signal
// (coordinator responds 204), distinguished by Found.
type ClaimResult struct {
	Found bool
	Job   coordinator.JobView
}

func (c *Client) Claim(ctx context.Context, botID uuid.UUID) (*ClaimResult, error) {
	body, status, err := c.doRaw(ctx, http.MethodPost, "/jobs/claim", coordinator.ClaimRequest{BotID: botID.String()}, nil, false)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return &ClaimResult{Found: false}, nil
	}
	var job coordinator.JobView
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("agent: decode claim response: %w", err)
	}
	return &ClaimResult{Found: true, Job: job}, nil
}

func (c *Client) Start(ctx context.Context, jobID, botID uuid.UUID) error {
	path := fmt.Sprintf("/jobs/%s/start", jobID)
	return c.do(ctx, http.MethodPost, path, coordinator.ClaimRequest{BotID: botID.String()}, nil, nil, false)
}

func (c *Client) Complete(ctx context.Context, jobID, botID uuid.UUID, value int, duration time.Duration) error {
	path := fmt.Sprintf("/jobs/%s/complete", jobID)
	return c.do(ctx, http.MethodPost, path, coordinator.CompleteRequest{
		BotID:      botID.String(),
		Value:      value,
		DurationMS: duration.Milliseconds(),
	}, nil, nil, false)
}

func (c *Client) Fail(ctx context.Context, jobID, botID uuid.UUID, errMsg string, duration time.Duration) error {
	path := fmt.Sprintf("/jobs/%s/fail", jobID)
	return c.do(ctx, http.MethodPost, path, coordinator.FailRequest{
		BotID:      botID.String(),
		Error:      errMsg,
		DurationMS: duration.Milliseconds(),
	}, nil, nil, false)
}

// Healthz probes the coordinator's liveness endpoint (health probe #2).
func (c *Client) Healthz(ctx context.Context) error {
	_, status, err := c.doRaw(ctx, http.MethodGet, "/healthz", nil, nil, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("agent: healthz returned %d", status)
	}
	return nil
}

// MetricsShapeOK probes the coordinator's metrics endpoint (health probe
// #3): a 200 with a non-empty Prometheus text body is treated as the
// expected shape, since parsing the exposition format in full is more than
// the probe needs.
func (c *Client) MetricsShapeOK(ctx context.Context) error {
	body, status, err := c.doRaw(ctx, http.MethodGet, "/metrics", nil, nil, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK || len(body) == 0 {
		return fmt.Errorf("agent: metrics endpoint returned unexpected shape (status=%d, len=%d)", status, len(body))
	}
	return nil
}

// ListBots probes the coordinator's worker listing (health probe #1): the
// registration-visible check looks for botID among the returned rows.
func (c *Client) ListBots(ctx context.Context) ([]coordinator.WorkerView, error) {
	body, _, err := c.doRaw(ctx, http.MethodGet, "/bots", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Bots []coordinator.WorkerView `json:"bots"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("agent: decode bot listing: %w", err)
	}
	return wrapped.Bots, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, mutate func(*http.Request), skipAuth bool) error {
	respBody, status, err := c.doRaw(ctx, method, path, body, mutate, skipAuth)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent || out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("agent: decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}, mutate func(*http.Request), skipAuth bool) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("agent: encode request to %s: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("agent: build request to %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !skipAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if mutate != nil {
		mutate(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("agent: call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("agent: read response from %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return respBody, resp.StatusCode, ErrUnauthorized
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNoContent {
		return respBody, resp.StatusCode, &statusError{method: method, path: path, status: resp.StatusCode, body: string(respBody)}
	}
	return respBody, resp.StatusCode, nil
}

// Close releases the client's idle HTTP connections, called on shutdown
// per §4.5.4's "closes the HTTP connection pool".
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
