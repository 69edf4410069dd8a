package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/wrale/device-auth-proxy/internal/backend"
	"github.com/wrale/device-auth-proxy/internal/logctx"
)

const (
	keyPrefix = "rl:"

	// UnavailableRetryAfter is suggested to clients refused because the
	// counter store is unreachable
	UnavailableRetryAfter = 5 * time.Second
)

// Decision is the outcome of one Check
type Decision struct {
	Allowed     bool
	Tier        string        // tier that denied the request, or the one closest to its limit
	Limit       int64         // max of Tier
	Remaining   int64         // requests left in Tier's current window
	RetryAfter  time.Duration // whole seconds, set when not allowed
	Unavailable bool          // the counter store failed and a fail-closed tier applies
	Degraded    bool          // the counter store failed and the decision was made locally
}

// Limiter checks requests against a tier table
type Limiter struct {
	tiers    []Tier
	counter  Counter
	timeout  time.Duration
	now      func() time.Time
	fallback *localFallback
}

// Option configures a Limiter
type Option func(*Limiter)

// WithTiers replaces the default tier table
func WithTiers(tiers []Tier) Option {
	return func(l *Limiter) {
		l.tiers = tiers
	}
}

// WithTimeout bounds counter store calls
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.timeout = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLocalFallback enables in-process limiting for fail-open tiers while the
// counter store is unreachable
func WithLocalFallback(enabled bool) Option {
	return func(l *Limiter) {
		if enabled {
			l.fallback = newLocalFallback()
		} else {
			l.fallback = nil
		}
	}
}

// New creates a limiter
func New(counter Counter, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		tiers:    DefaultTiers(),
		counter:  counter,
		timeout:  backend.DefaultTimeout,
		now:      time.Now,
		fallback: newLocalFallback(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := ValidateTiers(l.tiers); err != nil {
		return nil, err
	}
	return l, nil
}

// CheckHealth verifies the counter store is healthy
func (l *Limiter) CheckHealth(ctx context.Context) error {
	return backend.Call(ctx, l.timeout, l.counter.CheckHealth)
}

// Check counts one request from ip against every tier matching scope. Counts
// are incremented even when another tier denies the request.
func (l *Limiter) Check(ctx context.Context, ip string, scope Scope) Decision {
	now := l.now()

	var (
		tiers []Tier
		hits  []Hit
		ends  []time.Time
	)
	for _, t := range l.tiers {
		if !t.Applies(scope) {
			continue
		}
		key, end := bucket(t, ip, scope, now)
		tiers = append(tiers, t)
		hits = append(hits, Hit{Key: key, ExpireAt: end.Add(time.Second)})
		ends = append(ends, end)
	}
	if len(tiers) == 0 {
		return Decision{Allowed: true}
	}

	var counts []int64
	err := backend.Call(ctx, l.timeout, func(ctx context.Context) error {
		var err error
		counts, err = l.counter.Increment(ctx, hits)
		return err
	})
	if err != nil {
		return l.degraded(ctx, ip, scope, tiers, err)
	}

	d := Decision{Allowed: true, Remaining: -1}
	var retry time.Duration
	for i, t := range tiers {
		if counts[i] > t.Max {
			wait := ends[i].Sub(now)
			if d.Allowed || wait < retry {
				retry = wait
				d = Decision{Tier: t.Name, Limit: t.Max}
			}
			continue
		}
		if !d.Allowed {
			continue
		}
		if remaining := t.Max - counts[i]; d.Remaining < 0 || remaining < d.Remaining {
			d.Tier, d.Limit, d.Remaining = t.Name, t.Max, remaining
		}
	}

	if !d.Allowed {
		d.RetryAfter = ceilSeconds(retry)
		logctx.From(ctx).Info("rate_limited",
			slog.String("ip", ip),
			slog.String("scope", string(scope)),
			slog.String("tier", d.Tier),
			slog.Duration("retry_after", d.RetryAfter),
		)
	}
	return d
}

// degraded decides without the counter store. Any fail-closed tier refuses the
// request; otherwise it is admitted, through the local fallback if enabled.
func (l *Limiter) degraded(ctx context.Context, ip string, scope Scope, tiers []Tier, err error) Decision {
	log := logctx.From(ctx).With(
		slog.String("component", "ratelimit"),
		slog.String("scope", string(scope)),
	)

	for _, t := range tiers {
		if !t.FailOpen {
			log.Error("store_unavailable", slog.String("tier", t.Name), slog.String("err", err.Error()))
			return Decision{Tier: t.Name, Limit: t.Max, Unavailable: true, RetryAfter: UnavailableRetryAfter}
		}
	}

	log.Warn("store_unavailable", slog.String("err", err.Error()))
	if l.fallback != nil && !l.fallback.allow(ip, tiers) {
		return Decision{Tier: tiers[0].Name, Limit: tiers[0].Max, Degraded: true, RetryAfter: time.Second}
	}
	return Decision{Allowed: true, Degraded: true}
}

// bucket returns the counter key and window end for a tier at now
func bucket(t Tier, ip string, scope Scope, now time.Time) (string, time.Time) {
	window := t.Window.Milliseconds()
	idx := now.UnixMilli() / window

	key := keyPrefix + t.Name + ":" + ip
	if t.PerScope {
		key += ":" + string(scope)
	}
	key += ":" + strconv.FormatInt(idx, 10)

	return key, time.UnixMilli((idx + 1) * window)
}

func ceilSeconds(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
