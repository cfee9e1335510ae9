package server

import (
	"sync"
	"time"

	"github.com/lawnchairsociety/wavefront/internal/config"
)

// ConstructLimiter counts rejected construct payloads per IP and locks out
// IPs that keep sending them. Each lockout doubles, up to a maximum.
type ConstructLimiter struct {
	mu          sync.Mutex
	failures    map[string]*failureInfo
	maxFailures int
	lockout     time.Duration
	maxLockout  time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

type failureInfo struct {
	failures    int
	lockedUntil time.Time
	lockouts    int
}

// NewConstructLimiter creates a limiter and starts its cleanup goroutine.
func NewConstructLimiter(cfg config.RateLimitConfig) *ConstructLimiter {
	rl := newConstructLimiter(cfg, time.Now)
	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

func newConstructLimiter(cfg config.RateLimitConfig, now func() time.Time) *ConstructLimiter {
	rl := &ConstructLimiter{
		failures:    make(map[string]*failureInfo),
		maxFailures: cfg.MaxFailures,
		lockout:     time.Duration(cfg.LockoutSeconds) * time.Second,
		maxLockout:  time.Duration(cfg.MaxLockoutSeconds) * time.Second,
		now:         now,
		stop:        make(chan struct{}),
	}

	if rl.maxFailures <= 0 {
		rl.maxFailures = 10
	}
	if rl.lockout <= 0 {
		rl.lockout = 30 * time.Second
	}
	if rl.maxLockout < rl.lockout {
		rl.maxLockout = rl.lockout
	}
	return rl
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *ConstructLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// IsLocked reports whether ip is locked out and for how much longer.
func (rl *ConstructLimiter) IsLocked(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info, ok := rl.failures[ip]
	if !ok {
		return false, 0
	}
	if now := rl.now(); now.Before(info.lockedUntil) {
		return true, info.lockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts a rejected payload from ip. It reports whether ip is
// now locked out, and for how long.
func (rl *ConstructLimiter) RecordFailure(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	info, ok := rl.failures[ip]
	if !ok {
		info = &failureInfo{}
		rl.failures[ip] = info
	}

	if now.Before(info.lockedUntil) {
		return true, info.lockedUntil.Sub(now)
	}

	info.failures++
	if info.failures < rl.maxFailures {
		return false, 0
	}

	info.lockouts++
	d := rl.lockout
	for i := 1; i < info.lockouts && d < rl.maxLockout; i++ {
		d *= 2
	}
	d = min(d, rl.maxLockout)

	info.lockedUntil = now.Add(d)
	info.failures = 0
	return true, d
}

// RecordSuccess clears the failure count for ip. Past lockouts still count
// toward the backoff.
func (rl *ConstructLimiter) RecordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if info, ok := rl.failures[ip]; ok {
		info.failures = 0
	}
}

// Failures returns the current failure count for ip.
func (rl *ConstructLimiter) Failures(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if info, ok := rl.failures[ip]; ok {
		return info.failures
	}
	return 0
}

func (rl *ConstructLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops IPs with no pending failures whose last lockout ended over
// ten minutes ago.
func (rl *ConstructLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-10 * time.Minute)
	for ip, info := range rl.failures {
		if info.failures == 0 && info.lockedUntil.Before(cutoff) {
			delete(rl.failures, ip)
		}
	}
}
