// Package scheduler decides which categories are due for a scan on each tick
// and in what order.
package scheduler

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/health"
	"github.com/pricehawk/scan-service/internal/types"
)

// ErrorCooldown maps an error-message substring to a wait window during which
// a failing category is not rescheduled
type ErrorCooldown struct {
	Substring string
	Cooldown  time.Duration
}

// DefaultErrorCooldowns covers the failure shapes that recur in practice
var DefaultErrorCooldowns = []ErrorCooldown{
	{Substring: "403", Cooldown: 8 * time.Hour},
	{Substring: "429", Cooldown: time.Hour},
	{Substring: "timeout", Cooldown: 30 * time.Minute},
	{Substring: "captcha", Cooldown: 6 * time.Hour},
	{Substring: "blocked", Cooldown: 6 * time.Hour},
	{Substring: "cloudflare", Cooldown: 6 * time.Hour},
}

// Config tunes interval computation
type Config struct {
	BaseInterval     time.Duration
	NoDealsPenalty   float64 // multiplier when a scanned category yields nothing
	SuccessRateBoost float64 // multiplier when a category is yielding well
	ErrorCooldowns   []ErrorCooldown
}

// DefaultConfig returns the scheduler defaults
func DefaultConfig() Config {
	return Config{
		BaseInterval:     30 * time.Minute,
		NoDealsPenalty:   1.5,
		SuccessRateBoost: 0.8,
		ErrorCooldowns:   DefaultErrorCooldowns,
	}
}

// Scheduler computes due categories from category state and store health
type Scheduler struct {
	cfg    Config
	health *health.Tracker
	logger zerolog.Logger
}

// New creates a scheduler. health may be nil when health tracking is off.
func New(cfg Config, tracker *health.Tracker, logger zerolog.Logger) *Scheduler {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 30 * time.Minute
	}
	if cfg.NoDealsPenalty <= 0 {
		cfg.NoDealsPenalty = 1.5
	}
	if cfg.SuccessRateBoost <= 0 {
		cfg.SuccessRateBoost = 0.8
	}
	return &Scheduler{
		cfg:    cfg,
		health: tracker,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// EffectiveInterval applies the multiplier chain over the category's base
// interval, clamped to at least the base and one minute.
func (s *Scheduler) EffectiveInterval(cat *types.Category) time.Duration {
	base := time.Duration(cat.ScanIntervalMin) * time.Minute
	if base <= 0 {
		base = s.cfg.BaseInterval
	}

	interval := float64(base)
	interval *= priorityMultiplier(cat.Priority)

	if cat.LastScannedAt != nil && cat.DealsFound == 0 {
		interval *= s.cfg.NoDealsPenalty
	} else if cat.DealsFound >= 5 {
		interval *= s.cfg.SuccessRateBoost
	}

	if s.health != nil && !s.health.IsHealthy(cat.Store) {
		interval *= 1.5
	}

	interval *= domainMultiplier(cat.Name)

	result := time.Duration(interval)
	if result < base {
		result = base
	}
	if result < time.Minute {
		result = time.Minute
	}
	return result
}

func priorityMultiplier(priority int) float64 {
	switch {
	case priority >= 8:
		return 1.0
	case priority >= 5:
		return 1.5
	default:
		return 2.0
	}
}

// domainMultiplier tightens intervals for pages whose names promise churn
func domainMultiplier(name string) float64 {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "new") || strings.Contains(lower, "arrival") {
		return 0.5
	}
	for _, kw := range []string{"flash", "lightning", "deal", "sale", "clearance"} {
		if strings.Contains(lower, kw) {
			return 0.7
		}
	}
	return 1.0
}

// IsDue reports whether the category should be scanned now
func (s *Scheduler) IsDue(cat *types.Category, now time.Time) bool {
	if cat.LastScannedAt == nil {
		return true
	}
	return !now.Before(cat.LastScannedAt.Add(s.EffectiveInterval(cat)))
}

// inErrorCooldown checks the category's last error against the cooldown table
func (s *Scheduler) inErrorCooldown(cat *types.Category, now time.Time) bool {
	if cat.LastError == "" || cat.LastErrorAt == nil {
		return false
	}
	lower := strings.ToLower(cat.LastError)
	for _, entry := range s.cfg.ErrorCooldowns {
		if strings.Contains(lower, strings.ToLower(entry.Substring)) {
			if now.Before(cat.LastErrorAt.Add(entry.Cooldown)) {
				return true
			}
		}
	}
	return false
}

// PriorityScore orders due categories: higher scans first
func (s *Scheduler) PriorityScore(cat *types.Category, now time.Time) float64 {
	score := float64(cat.Priority)

	if cat.DealsFound >= 5 {
		score += 2
	} else if cat.DealsFound > 0 {
		score += 1
	}

	lower := strings.ToLower(cat.Name)
	for _, kw := range []string{"electronics", "computer", "laptop", "tv", "camera", "gaming"} {
		if strings.Contains(lower, kw) {
			score += 1.5
			break
		}
	}

	if cat.LastErrorAt != nil {
		since := now.Sub(*cat.LastErrorAt)
		if since < time.Hour {
			score -= 2
		} else if since < 6*time.Hour {
			score -= 1
		}
	}
	return score
}

// Due filters the enabled categories down to the ordered scan list for this
// tick
func (s *Scheduler) Due(categories []*types.Category, now time.Time) []*types.Category {
	var due []*types.Category
	for _, cat := range categories {
		if !cat.Enabled {
			continue
		}
		if !s.IsDue(cat, now) {
			continue
		}
		if s.inErrorCooldown(cat, now) {
			s.logger.Debug().Str("category", cat.Name).Str("last_error", cat.LastError).Msg("Category in error cooldown, skipping")
			continue
		}
		due = append(due, cat)
	}

	sort.SliceStable(due, func(i, j int) bool {
		return s.PriorityScore(due[i], now) > s.PriorityScore(due[j], now)
	})

	if len(due) > 0 {
		s.logger.Info().Int("due", len(due)).Int("total", len(categories)).Msg("Scheduler tick computed due set")
	}
	return due
}
