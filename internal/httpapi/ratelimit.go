package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter enforces per-key (client IP) request rate limits using a
// token bucket per key. Used on the authenticated task endpoints; the
// loopback-only scheduler_tick endpoint is never rate limited since its
// caller is the trusted local cron driver.
type rateLimiter struct {
	limiters sync.Map
	r        rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter builds a rateLimiter at perSecond requests/sec with the
// given burst. perSecond <= 0 disables limiting (Allow always true).
func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if perSecond > 0 {
		r = rate.Limit(perSecond)
	}
	rl := &rateLimiter{r: r, burst: burst}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) allow(key string) bool {
	if rl.r == 0 {
		return true
	}
	entry := rl.getOrCreate(key)
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (rl *rateLimiter) getOrCreate(key string) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst), lastSeen: time.Now()}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.limiters.Range(func(key, value any) bool {
			if value.(*limiterEntry).lastSeen.Before(cutoff) {
				rl.limiters.Delete(key)
			}
			return true
		})
	}
}
