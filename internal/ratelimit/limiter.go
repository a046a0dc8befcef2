// Package ratelimit paces outbound requests per host. A host is either in
// interval mode (serialised releases with a randomised gap) or token-bucket
// mode, and can additionally carry an externally-set cooldown that any
// acquisition must wait out first.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Mode selects the pacing strategy for a host
type Mode string

const (
	ModeInterval Mode = "interval"
	ModeBucket   Mode = "bucket"
)

// HostConfig holds the pacing parameters for one host
type HostConfig struct {
	Mode     Mode
	MinDelay time.Duration // interval mode lower bound
	MaxDelay time.Duration // interval mode upper bound
	Jitter   time.Duration // interval mode +/- jitter
	RPS      float64       // bucket mode refill rate
	Burst    int           // bucket mode capacity
}

// DefaultHostConfig returns a conservative interval-mode config
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Mode:     ModeInterval,
		MinDelay: 2 * time.Second,
		MaxDelay: 5 * time.Second,
		Jitter:   500 * time.Millisecond,
	}
}

type hostState struct {
	mu            sync.Mutex
	cfg           HostConfig
	bucket        *rate.Limiter
	lastRelease   time.Time
	cooldownUntil time.Time
}

// Limiter tracks pacing state per host. Acquisitions on distinct hosts never
// block each other; the limiter mutex only guards the host map.
type Limiter struct {
	mu       sync.Mutex
	hosts    map[string]*hostState
	defaults HostConfig
	rng      *rand.Rand
	rngMu    sync.Mutex
}

// New creates a limiter with the given default per-host config
func New(defaults HostConfig) *Limiter {
	return &Limiter{
		hosts:    make(map[string]*hostState),
		defaults: defaults,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Configure sets (or replaces) the pacing config for a host
func (l *Limiter) Configure(host string, cfg HostConfig) {
	hs := l.state(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.cfg = cfg
	if cfg.Mode == ModeBucket {
		hs.bucket = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	} else {
		hs.bucket = nil
	}
}

// SetCooldown blocks acquisitions for the host until the given time.
// Driven by the fetch pipeline when a 429 carries a Retry-After.
func (l *Limiter) SetCooldown(host string, until time.Time) {
	hs := l.state(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if until.After(hs.cooldownUntil) {
		hs.cooldownUntil = until
	}
}

// CooldownUntil reports the host's current cooldown deadline
func (l *Limiter) CooldownUntil(host string) time.Time {
	hs := l.state(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.cooldownUntil
}

// Acquire blocks until the caller may issue a request against the host.
// Interval mode holds the per-host lock across the wait so releases for a
// single host are strictly serialised.
func (l *Limiter) Acquire(ctx context.Context, host string) error {
	hs := l.state(host)

	hs.mu.Lock()

	// Cooldown applies before either pacing mode
	if wait := time.Until(hs.cooldownUntil); wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			hs.mu.Unlock()
			return err
		}
	}

	cfg := hs.cfg
	if cfg.Mode == ModeBucket && hs.bucket != nil {
		bucket := hs.bucket
		hs.mu.Unlock()
		// rate.Limiter sleeps (1-tokens)/rps internally
		return bucket.Wait(ctx)
	}

	target := l.intervalGap(cfg)
	if !hs.lastRelease.IsZero() {
		elapsed := time.Since(hs.lastRelease)
		if elapsed < target {
			if err := sleepCtx(ctx, target-elapsed); err != nil {
				hs.mu.Unlock()
				return err
			}
		}
	}
	hs.lastRelease = time.Now()
	hs.mu.Unlock()
	return nil
}

// intervalGap draws uniform(min, max) +/- uniform jitter
func (l *Limiter) intervalGap(cfg HostConfig) time.Duration {
	span := cfg.MaxDelay - cfg.MinDelay
	gap := cfg.MinDelay
	l.rngMu.Lock()
	if span > 0 {
		gap += time.Duration(l.rng.Int63n(int64(span)))
	}
	if cfg.Jitter > 0 {
		gap += time.Duration(l.rng.Int63n(int64(2*cfg.Jitter))) - cfg.Jitter
	}
	l.rngMu.Unlock()
	if gap < 0 {
		gap = 0
	}
	return gap
}

func (l *Limiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	hs, ok := l.hosts[host]
	if !ok {
		hs = &hostState{cfg: l.defaults}
		if l.defaults.Mode == ModeBucket {
			hs.bucket = rate.NewLimiter(rate.Limit(l.defaults.RPS), l.defaults.Burst)
		}
		l.hosts[host] = hs
	}
	return hs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
