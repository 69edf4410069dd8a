package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxFallbackKeys caps the in-process limiter table; it is reset when full
const maxFallbackKeys = 10000

// localFallback approximates the fail-open tiers in process while the counter
// store is unreachable. Limits are per instance, not shared.
type localFallback struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalFallback() *localFallback {
	return &localFallback{limiters: make(map[string]*rate.Limiter)}
}

// allow reports whether every tier admits one more request from ip
func (f *localFallback) allow(ip string, tiers []Tier) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.limiters) >= maxFallbackKeys {
		f.limiters = make(map[string]*rate.Limiter)
	}

	allowed := true
	for _, t := range tiers {
		key := t.Name + ":" + ip
		l, ok := f.limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(float64(t.Max)/t.Window.Seconds()), int(t.Max))
			f.limiters[key] = l
		}
		if !l.Allow() {
			allowed = false
		}
	}
	return allowed
}
