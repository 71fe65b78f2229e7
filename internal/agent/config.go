// Package agent implements the worker process: the single-threaded
// cooperative event loop that registers with the coordinator, holds a
// bearer token, and cycles claim/start/complete|fail against the job
// queue. Grounded on the teacher's internal/jobs/worker.Worker for the
// ticker/goroutine shape, generalized from an in-process DB-backed queue
// to a remote HTTP coordinator with its own auth and circuit breakers.
package agent

import (
	"time"

	"github.com/jobmesh/platform/internal/platform/envutil"
)

// Config bundles every tunable named in §4.5: backoff, timeouts, breaker
// thresholds, and the coordinator's base URL and credentials.
type Config struct {
	CoordinatorBaseURL string
	BotKey              string
	BootstrapSecret     string
	ClientVersion       string
	Platform            string
	Capabilities        []string
	MaxConcurrency      int

	CallTimeout time.Duration // per-call total timeout, default 30s

	BackoffBase    time.Duration // default 1s
	BackoffExpo    float64       // default 2
	BackoffMax     time.Duration // default 60s
	MaxStartupAttempts int       // default 20

	RegisteringTimeout time.Duration // watchdog: default 5m
	HealthCheckTimeout time.Duration // watchdog: default 3m

	HealthProbeFailureLimit int // default 3

	BreakerFailureThreshold int           // default 5
	BreakerRecoveryTimeout  time.Duration // default 30s
	BreakerHalfOpenMaxCalls int           // default 3

	HeartbeatFailureLimit int // default 5, triggers synchronous reprobe

	TokenRefreshSkew time.Duration // default 60s

	ShutdownGrace time.Duration // default small grace for task cancellation

	// FailureProbability rolls per job to simulate a processing failure,
	// exercising the fail() path in the liveness harness. Zero disables it.
	FailureProbability float64
	// SimulatedProcessingDelay, when ProcessingMode is "simulated", is the
	// sleep applied before reporting completion instead of running the
	// real operation.
	SimulatedProcessingDelay time.Duration
	ProcessingMode           string // "simulated" or "real"
}

// DefaultConfig applies every default named in §4.5.1-4.5.5.
func DefaultConfig() Config {
	return Config{
		CallTimeout:             30 * time.Second,
		BackoffBase:             1 * time.Second,
		BackoffExpo:             2,
		BackoffMax:              60 * time.Second,
		MaxStartupAttempts:      20,
		RegisteringTimeout:      5 * time.Minute,
		HealthCheckTimeout:      3 * time.Minute,
		HealthProbeFailureLimit: 3,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  30 * time.Second,
		BreakerHalfOpenMaxCalls: 3,
		HeartbeatFailureLimit:   5,
		TokenRefreshSkew:        60 * time.Second,
		ShutdownGrace:           5 * time.Second,
		ProcessingMode:          "simulated",
		MaxConcurrency:          1,
	}
}

// ConfigFromEnv layers environment overrides onto DefaultConfig, the
// teacher's envutil.Int-driven ConfigFromEnv pattern (sendgrid.ConfigFromEnv)
// generalized to the worker's tunables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = time.Duration(envutil.Int("AGENT_CALL_TIMEOUT_SECONDS", int(cfg.CallTimeout.Seconds()))) * time.Second
	cfg.BackoffBase = time.Duration(envutil.Int("AGENT_BACKOFF_BASE_SECONDS", int(cfg.BackoffBase.Seconds()))) * time.Second
	cfg.BackoffMax = time.Duration(envutil.Int("AGENT_BACKOFF_MAX_SECONDS", int(cfg.BackoffMax.Seconds()))) * time.Second
	cfg.MaxStartupAttempts = envutil.Int("AGENT_MAX_STARTUP_ATTEMPTS", cfg.MaxStartupAttempts)
	cfg.BreakerFailureThreshold = envutil.Int("AGENT_BREAKER_FAILURE_THRESHOLD", cfg.BreakerFailureThreshold)
	cfg.BreakerRecoveryTimeout = time.Duration(envutil.Int("AGENT_BREAKER_RECOVERY_TIMEOUT_SECONDS", int(cfg.BreakerRecoveryTimeout.Seconds()))) * time.Second
	cfg.BreakerHalfOpenMaxCalls = envutil.Int("AGENT_BREAKER_HALF_OPEN_MAX_CALLS", cfg.BreakerHalfOpenMaxCalls)
	cfg.HeartbeatFailureLimit = envutil.Int("AGENT_HEARTBEAT_FAILURE_LIMIT", cfg.HeartbeatFailureLimit)
	cfg.TokenRefreshSkew = time.Duration(envutil.Int("AGENT_TOKEN_REFRESH_SKEW_SECONDS", int(cfg.TokenRefreshSkew.Seconds()))) * time.Second
	return cfg
}
