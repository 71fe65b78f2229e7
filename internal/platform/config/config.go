// Package config loads the coordinator/agent's environment-variable
// configuration, per §6.2's recognized-keys table. Every key has a sane
// default so the binaries run out of the box in dev mode.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jobmesh/platform/internal/platform/logger"
)

// GetEnv returns the string value of name, or def if unset/blank.
func GetEnv(name, def string, log *logger.Logger) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

// GetEnvAsInt returns the int value of name, or def if unset/unparsable.
func GetEnvAsInt(name string, def int, log *logger.Logger) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid int env var, using default", "name", name, "value", v, "default", def)
		}
		return def
	}
	return i
}

// GetEnvAsFloat returns the float64 value of name, or def if unset/unparsable.
func GetEnvAsFloat(name string, def float64, log *logger.Logger) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		if log != nil {
			log.Warn("invalid float env var, using default", "name", name, "value", v, "default", def)
		}
		return def
	}
	return f
}

// GetEnvAsBool returns the bool value of name, or def if unset/unparsable.
func GetEnvAsBool(name string, def bool, log *logger.Logger) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// GetEnvAsDurationMS interprets name as a count of milliseconds (matching the
// source's *_MS env var convention) and returns it as a time.Duration.
func GetEnvAsDurationMS(name string, defMS int, log *logger.Logger) time.Duration {
	return time.Duration(GetEnvAsInt(name, defMS, log)) * time.Millisecond
}

// CoordinatorConfig holds every coordinator-side tunable from §6.2.
type CoordinatorConfig struct {
	DatabaseURL string
	AdminToken  string

	DBMaxOpenConns int
	DBMaxIdleConns int

	LogMode string

	JWTPrivateKeyPath string
	JWTKeyID          string
	RedisURL          string

	PopulateIntervalMS time.Duration
	PopulateBatchSize  int

	BotRetentionDays    int
	CleanupIntervalHours int
	CleanupDryRun       bool

	ClaimedJobTimeoutSeconds    int
	ProcessingJobTimeoutSeconds int

	MetricsNamespace string

	MinClientVersion string
}

// LoadCoordinatorConfig reads every coordinator env var, falling back to the
// documented defaults.
func LoadCoordinatorConfig(log *logger.Logger) CoordinatorConfig {
	return CoordinatorConfig{
		DatabaseURL: GetEnv("DATABASE_URL", "postgres://localhost:5432/jobmesh?sslmode=disable", log),
		AdminToken:  GetEnv("ADMIN_TOKEN", "", log),

		DBMaxOpenConns: GetEnvAsInt("DB_MAX_OPEN_CONNS", 20, log),
		DBMaxIdleConns: GetEnvAsInt("DB_MAX_IDLE_CONNS", 5, log),

		LogMode: GetEnv("LOG_MODE", "dev", log),

		JWTPrivateKeyPath: GetEnv("JWT_PRIVATE_KEY_PATH", "", log),
		JWTKeyID:          GetEnv("JWT_KEY_ID", "coordinator-1", log),
		RedisURL:          GetEnv("REDIS_URL", "", log),

		PopulateIntervalMS: GetEnvAsDurationMS("POPULATE_INTERVAL_MS", 0, log),
		PopulateBatchSize:  GetEnvAsInt("BATCH_SIZE", 10, log),

		BotRetentionDays:     GetEnvAsInt("BOT_RETENTION_DAYS", 30, log),
		CleanupIntervalHours: GetEnvAsInt("CLEANUP_INTERVAL_HOURS", 1, log),
		CleanupDryRun:        GetEnvAsBool("CLEANUP_DRY_RUN", false, log),

		ClaimedJobTimeoutSeconds:    GetEnvAsInt("CLAIMED_JOB_TIMEOUT_SECONDS", 300, log),
		ProcessingJobTimeoutSeconds: GetEnvAsInt("PROCESSING_JOB_TIMEOUT_SECONDS", 600, log),

		MetricsNamespace: GetEnv("METRICS_NAMESPACE", "jobmesh", log),

		MinClientVersion: GetEnv("MIN_CLIENT_VERSION", "0.0.0", log),
	}
}

// AgentConfig holds every worker-side tunable from §6.2.
type AgentConfig struct {
	CoordinatorURL string
	BotKey         string
	BootstrapSecret string

	HeartbeatIntervalMS   time.Duration
	ProcessingDurationMS  time.Duration
	FailureRate           float64
	MaxStartupAttempts    int
	HTTPClientTimeoutSecs int

	CBFailureThreshold  int
	CBRecoveryTimeout   time.Duration
	CBHalfOpenMaxCalls  int

	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	RetryExponentialBase float64
	RetryMaxAttempts     int

	LogMode string
}

// LoadAgentConfig reads every worker env var, falling back to the
// documented defaults.
func LoadAgentConfig(log *logger.Logger) AgentConfig {
	return AgentConfig{
		CoordinatorURL:  GetEnv("COORDINATOR_URL", "http://localhost:8080", log),
		BotKey:          GetEnv("BOT_KEY", "", log),
		BootstrapSecret: GetEnv("BOOTSTRAP_SECRET", "", log),

		HeartbeatIntervalMS:   GetEnvAsDurationMS("HEARTBEAT_INTERVAL_MS", 30000, log),
		ProcessingDurationMS:  GetEnvAsDurationMS("PROCESSING_DURATION_MS", 5*60*1000, log),
		FailureRate:           GetEnvAsFloat("FAILURE_RATE", 0.15, log),
		MaxStartupAttempts:    GetEnvAsInt("MAX_STARTUP_ATTEMPTS", 20, log),
		HTTPClientTimeoutSecs: GetEnvAsInt("HTTP_CLIENT_TIMEOUT_SECONDS", 30, log),

		CBFailureThreshold: GetEnvAsInt("CB_FAILURE_THRESHOLD", 5, log),
		CBRecoveryTimeout:  time.Duration(GetEnvAsInt("CB_RECOVERY_TIMEOUT", 30, log)) * time.Second,
		CBHalfOpenMaxCalls: GetEnvAsInt("CB_HALF_OPEN_MAX_CALLS", 3, log),

		RetryBaseDelay:       time.Duration(GetEnvAsFloat("RETRY_BASE_DELAY", 1, log) * float64(time.Second)),
		RetryMaxDelay:        time.Duration(GetEnvAsFloat("RETRY_MAX_DELAY", 60, log) * float64(time.Second)),
		RetryExponentialBase: GetEnvAsFloat("RETRY_EXPONENTIAL_BASE", 2, log),
		RetryMaxAttempts:     GetEnvAsInt("RETRY_MAX_ATTEMPTS", 20, log),

		LogMode: GetEnv("LOG_MODE", "dev", log),
	}
}
