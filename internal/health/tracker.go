// Package health keeps per-store rolling request statistics and turns them
// into a recommended inter-request delay for the rate limiter and scheduler.
package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/metrics"
)

const windowSize = 100

// Outcome is one request result fed into the tracker
type Outcome struct {
	Timestamp  time.Time
	Success    bool
	Duration   time.Duration
	StatusCode int
	Blocked    bool
	BlockType  string
}

// Summary is a stable projection of a store's rolling state
type Summary struct {
	Store               string        `json:"store"`
	Requests            int           `json:"requests"`
	ErrorRate           float64       `json:"error_rate"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Last429At           *time.Time    `json:"last_429_at,omitempty"`
	LastBlockAt         *time.Time    `json:"last_block_at,omitempty"`
	Healthy             bool          `json:"healthy"`
	RecommendedDelay    time.Duration `json:"recommended_delay"`
}

// Config holds the adaptive-delay tuning knobs
type Config struct {
	Adaptive           bool
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	ErrorRateThreshold float64
	HighLatency        time.Duration
	CooldownWindow     time.Duration // window after a 429 or block during which delay stays raised
}

// DefaultConfig returns the stock adaptive settings
func DefaultConfig() Config {
	return Config{
		Adaptive:           true,
		BaseDelay:          2 * time.Second,
		MaxDelay:           60 * time.Second,
		ErrorRateThreshold: 0.3,
		HighLatency:        5 * time.Second,
		CooldownWindow:     5 * time.Minute,
	}
}

type storeState struct {
	window              []Outcome // ring, newest last
	consecutiveFailures int
	last429At           time.Time
	lastBlockAt         time.Time
}

// Tracker maintains rolling health per store
type Tracker struct {
	mu      sync.RWMutex
	stores  map[string]*storeState
	cfg     Config
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// NewTracker creates a tracker with the given config
func NewTracker(cfg Config, rec *metrics.Recorder, logger zerolog.Logger) *Tracker {
	return &Tracker{
		stores:  make(map[string]*storeState),
		cfg:     cfg,
		metrics: rec,
		logger:  logger.With().Str("component", "store_health").Logger(),
	}
}

// Record appends one request outcome to the store's window
func (t *Tracker) Record(store string, o Outcome) {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	t.mu.Lock()
	st := t.stores[store]
	if st == nil {
		st = &storeState{}
		t.stores[store] = st
	}

	st.window = append(st.window, o)
	if len(st.window) > windowSize {
		st.window = st.window[len(st.window)-windowSize:]
	}

	if o.Success {
		st.consecutiveFailures = 0
	} else {
		st.consecutiveFailures++
	}
	if o.StatusCode == 429 {
		st.last429At = o.Timestamp
	}
	if o.Blocked {
		st.lastBlockAt = o.Timestamp
	}
	errorRate := errorRateLocked(st)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordStoreErrorRate(store, errorRate)
	}
	if o.Blocked {
		t.logger.Warn().
			Str("store", store).
			Str("block_type", o.BlockType).
			Int("status", o.StatusCode).
			Msg("Recorded block")
	}
}

// RecommendedDelay derives the inter-request delay for a store. With the
// adaptive switch off this is simply the base delay.
func (t *Tracker) RecommendedDelay(store string) time.Duration {
	if !t.cfg.Adaptive {
		return t.cfg.BaseDelay
	}

	t.mu.RLock()
	st := t.stores[store]
	var (
		errorRate float64
		avg       time.Duration
		fails     int
		age429    time.Duration = -1
		ageBlock  time.Duration = -1
	)
	if st != nil {
		errorRate = errorRateLocked(st)
		avg = avgResponseLocked(st)
		fails = st.consecutiveFailures
		if !st.last429At.IsZero() {
			age429 = time.Since(st.last429At)
		}
		if !st.lastBlockAt.IsZero() {
			ageBlock = time.Since(st.lastBlockAt)
		}
	}
	t.mu.RUnlock()

	delay := float64(t.cfg.BaseDelay)

	if errorRate > t.cfg.ErrorRateThreshold {
		delay *= 1 + 2*errorRate
	}
	if age429 >= 0 && age429 < t.cfg.CooldownWindow {
		delay *= 1 + 3*(1-float64(age429)/float64(t.cfg.CooldownWindow))
	}
	if ageBlock >= 0 && ageBlock < t.cfg.CooldownWindow {
		delay *= 1 + 3*(1-float64(ageBlock)/float64(t.cfg.CooldownWindow))
	}
	if avg > t.cfg.HighLatency {
		delay *= 1.5
	}
	if fails > 0 {
		mult := 1 + 0.5*float64(fails)
		if mult > 5 {
			mult = 5
		}
		delay *= mult
	}

	if delay > float64(t.cfg.MaxDelay) {
		delay = float64(t.cfg.MaxDelay)
	}

	d := time.Duration(delay)
	if t.metrics != nil {
		t.metrics.RecordRecommendedDelay(store, d.Seconds())
	}
	return d
}

// IsHealthy reports whether the store is in a usable state
func (t *Tracker) IsHealthy(store string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.stores[store]
	if st == nil {
		return true
	}
	if st.consecutiveFailures >= 10 {
		return false
	}
	return errorRateLocked(st) <= 0.8
}

// Summarize returns the stable projection for the scheduler and ops
func (t *Tracker) Summarize(store string) Summary {
	t.mu.RLock()
	st := t.stores[store]
	s := Summary{Store: store, Healthy: true}
	if st != nil {
		s.Requests = len(st.window)
		s.ErrorRate = errorRateLocked(st)
		s.AvgResponseTime = avgResponseLocked(st)
		s.ConsecutiveFailures = st.consecutiveFailures
		if !st.last429At.IsZero() {
			ts := st.last429At
			s.Last429At = &ts
		}
		if !st.lastBlockAt.IsZero() {
			ts := st.lastBlockAt
			s.LastBlockAt = &ts
		}
		s.Healthy = st.consecutiveFailures < 10 && s.ErrorRate <= 0.8
	}
	t.mu.RUnlock()

	s.RecommendedDelay = t.RecommendedDelay(store)
	return s
}

// Stores lists every store the tracker has seen
func (t *Tracker) Stores() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.stores))
	for s := range t.stores {
		out = append(out, s)
	}
	return out
}

func errorRateLocked(st *storeState) float64 {
	if len(st.window) == 0 {
		return 0
	}
	fails := 0
	for _, o := range st.window {
		if !o.Success {
			fails++
		}
	}
	return float64(fails) / float64(len(st.window))
}

func avgResponseLocked(st *storeState) time.Duration {
	if len(st.window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, o := range st.window {
		sum += o.Duration
	}
	return sum / time.Duration(len(st.window))
}
