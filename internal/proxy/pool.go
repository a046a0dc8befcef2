// Package proxy manages the rotating pool of egress proxies: round-robin
// selection by type, per-proxy cooldowns and 403 strike tracking.
package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/types"
)

// Store is the persistence boundary for proxy rows. Counters are persisted
// best-effort; selection state (cooldowns, strikes) is process-local.
type Store interface {
	ListEnabledProxies(ctx context.Context) ([]types.Proxy, error)
	BumpProxyCounters(ctx context.Context, id string, success bool) error
}

// FailureKind labels a reported proxy failure. Only Failure403 and
// FailureBlocked change selection behaviour; other kinds are counted only.
type FailureKind string

const (
	Failure403     FailureKind = "403"
	FailureBlocked FailureKind = "blocked"
	FailureTimeout FailureKind = "timeout"
	FailureNetwork FailureKind = "network"
)

// Config holds pool tuning
type Config struct {
	MaxConsecutive403s int
	Cooldown403        time.Duration
}

// DefaultConfig returns the stock pool settings
func DefaultConfig() Config {
	return Config{
		MaxConsecutive403s: 5,
		Cooldown403:        30 * time.Minute,
	}
}

type entry struct {
	proxy           types.Proxy
	consecutive403s int
	cooldownUntil   time.Time
	lastUsedAt      time.Time
	lastSuccessAt   time.Time
	failureCount    int64
}

// Pool is the rotating proxy pool. Proxies are grouped by type and served
// round-robin, skipping cooled-down and struck-out entries.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry            // by proxy ID
	byType  map[types.ProxyType][]string // selection order
	cursor  map[types.ProxyType]int

	cfg     Config
	store   Store
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// NewPool creates an empty pool; call Refresh to load proxies
func NewPool(cfg Config, store Store, rec *metrics.Recorder, logger zerolog.Logger) *Pool {
	return &Pool{
		entries: make(map[string]*entry),
		byType:  make(map[types.ProxyType][]string),
		cursor:  make(map[types.ProxyType]int),
		cfg:     cfg,
		store:   store,
		metrics: rec,
		logger:  logger.With().Str("component", "proxy_pool").Logger(),
	}
}

// Refresh reloads configured proxies from storage. In-memory cooldown and
// strike state survives the reload for proxies that remain configured.
func (p *Pool) Refresh(ctx context.Context) error {
	proxies, err := p.store.ListEnabledProxies(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := make(map[string]*entry, len(proxies))
	byType := make(map[types.ProxyType][]string)
	for _, px := range proxies {
		e := &entry{proxy: px}
		if old, ok := p.entries[px.ID]; ok {
			e.consecutive403s = old.consecutive403s
			e.cooldownUntil = old.cooldownUntil
			e.lastUsedAt = old.lastUsedAt
			e.lastSuccessAt = old.lastSuccessAt
			e.failureCount = old.failureCount
		}
		fresh[px.ID] = e
		byType[px.Type] = append(byType[px.Type], px.ID)
	}
	p.entries = fresh
	p.byType = byType

	p.logger.Info().Int("proxies", len(fresh)).Msg("Refreshed proxy pool")
	return nil
}

// Next returns the next usable proxy of the requested type, skipping any IDs
// in exclude. An empty type draws from all sub-pools. Returns nil when no
// proxy is available; callers decide whether to proceed without one.
func (p *Pool) Next(exclude map[string]bool, proxyType types.ProxyType) *types.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	pools := []types.ProxyType{proxyType}
	if proxyType == "" {
		pools = []types.ProxyType{types.ProxyDatacenter, types.ProxyResidential, types.ProxyISP}
	}

	now := time.Now()
	for _, pt := range pools {
		ids := p.byType[pt]
		if len(ids) == 0 {
			continue
		}
		start := p.cursor[pt] % len(ids)
		for i := 0; i < len(ids); i++ {
			idx := (start + i) % len(ids)
			id := ids[idx]
			if exclude[id] {
				continue
			}
			e := p.entries[id]
			if e == nil || !p.usableLocked(e, now) {
				continue
			}
			p.cursor[pt] = idx + 1
			e.lastUsedAt = now
			px := e.proxy
			ts := now
			px.LastUsedAt = &ts
			return &px
		}
	}
	return nil
}

// usableLocked applies the strike and cooldown exclusion rules
func (p *Pool) usableLocked(e *entry, now time.Time) bool {
	if e.consecutive403s >= p.cfg.MaxConsecutive403s {
		return false
	}
	return !now.Before(e.cooldownUntil) || e.cooldownUntil.IsZero()
}

// ReportSuccess clears strikes and cooldown for the proxy
func (p *Pool) ReportSuccess(id string) {
	p.mu.Lock()
	e := p.entries[id]
	if e != nil {
		e.consecutive403s = 0
		e.cooldownUntil = time.Time{}
		e.failureCount = 0
		e.lastSuccessAt = time.Now()
	}
	p.mu.Unlock()

	if e == nil {
		return
	}
	if p.metrics != nil {
		p.metrics.RecordProxyStrikesCleared(id)
	}
	p.persistCounters(id, true)
}

// ReportFailure bumps the failure counter; a 403-kind failure also adds a
// strike and starts the cooldown.
func (p *Pool) ReportFailure(id string, kind FailureKind) {
	p.mu.Lock()
	e := p.entries[id]
	var strikes int
	if e != nil {
		e.failureCount++
		if kind == Failure403 || kind == FailureBlocked {
			e.consecutive403s++
			e.cooldownUntil = time.Now().Add(p.cfg.Cooldown403)
			strikes = e.consecutive403s
		}
	}
	p.mu.Unlock()

	if e == nil {
		return
	}
	if strikes > 0 {
		if p.metrics != nil {
			p.metrics.RecordProxy403(id, strikes)
		}
		if strikes >= p.cfg.MaxConsecutive403s {
			p.logger.Warn().Str("proxy", id).Int("strikes", strikes).
				Msg("Proxy struck out, excluded from selection")
		}
	}
	p.persistCounters(id, false)
}

// ReportBlock records an access-denied response (401/403/challenge) against
// the proxy; equivalent to a 403-kind failure.
func (p *Pool) ReportBlock(id string) {
	p.ReportFailure(id, FailureBlocked)
}

// Usable reports whether the proxy would currently be offered by Next
func (p *Pool) Usable(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[id]
	return e != nil && p.usableLocked(e, time.Now())
}

// Strikes returns the current consecutive-403 count for a proxy
func (p *Pool) Strikes(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.entries[id]; e != nil {
		return e.consecutive403s
	}
	return 0
}

// Size returns the number of loaded proxies
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// persistCounters writes success/failure bookkeeping into storage.
// Failures here are logged but never affect selection.
func (p *Pool) persistCounters(id string, success bool) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.BumpProxyCounters(ctx, id, success); err != nil {
		p.logger.Warn().Err(err).Str("proxy", id).Msg("Failed to persist proxy counters")
	}
}
