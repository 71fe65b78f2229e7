package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobmesh/platform/internal/platform/logger"
)

// RateLimiter enforces the per-bot_key sliding window and progressive
// lockout from §4.2: after FailureThreshold failures inside Window, the key
// is locked for an interval that grows through BackoffSchedule on repeated
// offenses. The lock check runs before any principal lookup or credential
// comparison, so a locked key is rejected without either.
type RateLimiter interface {
	// CheckLocked returns the remaining lockout duration if botKey is
	// currently locked out, or zero if it may attempt authentication.
	CheckLocked(ctx context.Context, botKey string) (time.Duration, error)
	// RecordFailure registers a failed attempt and returns the lockout
	// duration now in effect, if the threshold was just exceeded.
	RecordFailure(ctx context.Context, botKey string) (time.Duration, error)
	// RecordSuccess clears the failure window and the lockout-episode count
	// for botKey.
	RecordSuccess(ctx context.Context, botKey string) error
}

// DefaultFailureThreshold and DefaultWindow are §4.2's "5 within 5 minutes".
const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 5 * time.Minute
)

// DefaultBackoffSchedule is the progressive lockout ladder; the Nth lockout
// (1-indexed) within a rolling abuse episode uses schedule[min(N,len)-1].
var DefaultBackoffSchedule = []time.Duration{
	1 * time.Minute, 2 * time.Minute, 5 * time.Minute, 15 * time.Minute,
}

type redisRateLimiter struct {
	rdb       *redis.Client
	threshold int
	window    time.Duration
	backoff   []time.Duration
	log       *logger.Logger
}

// NewRedisRateLimiter builds a RateLimiter backed by a shared Redis
// instance, the teacher's client construction pattern generalized from
// clients/redis.NewSSEBus's pub/sub use to INCR/EXPIRE counters.
func NewRedisRateLimiter(rdb *redis.Client, threshold int, window time.Duration, backoff []time.Duration, log *logger.Logger) RateLimiter {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if len(backoff) == 0 {
		backoff = DefaultBackoffSchedule
	}
	return &redisRateLimiter{rdb: rdb, threshold: threshold, window: window, backoff: backoff, log: log}
}

func failuresKey(botKey string) string { return "auth:failures:" + botKey }
func lockoutKey(botKey string) string  { return "auth:lockout:" + botKey }
func episodeKey(botKey string) string  { return "auth:episode:" + botKey }

func (r *redisRateLimiter) CheckLocked(ctx context.Context, botKey string) (time.Duration, error) {
	ttl, err := r.rdb.TTL(ctx, lockoutKey(botKey)).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		return ttl, nil
	}
	return 0, nil
}

func (r *redisRateLimiter) RecordFailure(ctx context.Context, botKey string) (time.Duration, error) {
	count, err := r.rdb.Incr(ctx, failuresKey(botKey)).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, failuresKey(botKey), r.window).Err(); err != nil {
			return 0, err
		}
	}
	if count < int64(r.threshold) {
		return 0, nil
	}

	episode, err := r.rdb.Incr(ctx, episodeKey(botKey)).Result()
	if err != nil {
		return 0, err
	}
	idx := episode - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= int64(len(r.backoff)) {
		idx = int64(len(r.backoff)) - 1
	}
	lockout := r.backoff[idx]

	if err := r.rdb.Set(ctx, lockoutKey(botKey), "1", lockout).Err(); err != nil {
		return 0, err
	}
	if err := r.rdb.Del(ctx, failuresKey(botKey)).Err(); err != nil {
		return 0, err
	}
	r.log.Warn("auth rate limit tripped", "bot_key", botKey, "lockout_seconds", int(lockout.Seconds()))
	return lockout, nil
}

func (r *redisRateLimiter) RecordSuccess(ctx context.Context, botKey string) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, failuresKey(botKey))
	pipe.Del(ctx, episodeKey(botKey))
	_, err := pipe.Exec(ctx)
	return err
}

// inMemoryRateLimiter is the fallback used when REDIS_URL is unset, e.g. in
// single-process tests or a standalone coordinator deployment.
type inMemoryRateLimiter struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	backoff   []time.Duration
	failures  map[string][]time.Time
	lockedAt  map[string]time.Time
	lockFor   map[string]time.Duration
	episodes  map[string]int
}

func NewInMemoryRateLimiter(threshold int, window time.Duration, backoff []time.Duration) RateLimiter {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if len(backoff) == 0 {
		backoff = DefaultBackoffSchedule
	}
	return &inMemoryRateLimiter{
		threshold: threshold,
		window:    window,
		backoff:   backoff,
		failures:  map[string][]time.Time{},
		lockedAt:  map[string]time.Time{},
		lockFor:   map[string]time.Duration{},
		episodes:  map[string]int{},
	}
}

func (r *inMemoryRateLimiter) CheckLocked(_ context.Context, botKey string) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lockedAt, ok := r.lockedAt[botKey]
	if !ok {
		return 0, nil
	}
	remaining := r.lockFor[botKey] - time.Since(lockedAt)
	if remaining <= 0 {
		delete(r.lockedAt, botKey)
		delete(r.lockFor, botKey)
		return 0, nil
	}
	return remaining, nil
}

func (r *inMemoryRateLimiter) RecordFailure(_ context.Context, botKey string) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-r.window)
	kept := r.failures[botKey][:0]
	for _, t := range r.failures[botKey] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.failures[botKey] = kept

	if len(kept) < r.threshold {
		return 0, nil
	}

	r.episodes[botKey]++
	idx := r.episodes[botKey] - 1
	if idx >= len(r.backoff) {
		idx = len(r.backoff) - 1
	}
	lockout := r.backoff[idx]
	r.lockedAt[botKey] = now
	r.lockFor[botKey] = lockout
	r.failures[botKey] = nil
	return lockout, nil
}

func (r *inMemoryRateLimiter) RecordSuccess(_ context.Context, botKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, botKey)
	delete(r.episodes, botKey)
	return nil
}

// DeleteExpiredWindows implements L6 (SUPPLEMENTED): the Redis-backed
// limiter self-expires its keys via TTL and needs no sweep, but the
// in-memory fallback has no eviction path of its own, so its failure,
// lockout, and episode maps grow without bound under sustained auth
// traffic unless something reaps entries whose lockout has long since
// elapsed. limit is advisory; a full map is swept per call.
func (r *inMemoryRateLimiter) DeleteExpiredWindows(_ context.Context, olderThan time.Duration, _ int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for key, lockedAt := range r.lockedAt {
		if lockedAt.Before(cutoff) {
			delete(r.lockedAt, key)
			delete(r.lockFor, key)
			delete(r.episodes, key)
			removed++
		}
	}
	for key, events := range r.failures {
		if len(events) == 0 {
			delete(r.failures, key)
			continue
		}
		last := events[len(events)-1]
		if last.Before(cutoff) {
			delete(r.failures, key)
			removed++
		}
	}
	return removed, nil
}

// DeleteExpiredWindows is a no-op for the Redis-backed limiter: every key
// it writes carries its own TTL (EXPIRE/SET...EX), so Redis reclaims them
// without a coordinator-side sweep.
func (r *redisRateLimiter) DeleteExpiredWindows(_ context.Context, _ time.Duration, _ int) (int, error) {
	return 0, nil
}
