package health

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestTracker(cfg Config) *Tracker {
	return NewTracker(cfg, nil, zerolog.Nop())
}

func TestRecommendedDelayBaseWhenAdaptiveOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptive = false
	cfg.BaseDelay = 3 * time.Second
	tr := newTestTracker(cfg)

	for i := 0; i < 20; i++ {
		tr.Record("walmart", Outcome{Success: false, StatusCode: 500})
	}
	assert.Equal(t, 3*time.Second, tr.RecommendedDelay("walmart"))
}

func TestRecommendedDelayEscalatesWithErrorRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = time.Hour
	tr := newTestTracker(cfg)

	// Old failures (error rate 1.0, consecutive failures) should multiply delay
	for i := 0; i < 10; i++ {
		tr.Record("amazon_us", Outcome{Success: false, StatusCode: 500})
	}
	d := tr.RecommendedDelay("amazon_us")
	assert.Greater(t, d, cfg.BaseDelay)
}

func TestRecommendedDelayClampedAtMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 10 * time.Second
	cfg.MaxDelay = 15 * time.Second
	tr := newTestTracker(cfg)

	for i := 0; i < 50; i++ {
		tr.Record("target", Outcome{Success: false, StatusCode: 429, Blocked: true, BlockType: "captcha"})
	}
	assert.LessOrEqual(t, tr.RecommendedDelay("target"), 15*time.Second)
}

func Test429RaisesDelayWithinCooldownWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = time.Hour
	cfg.ErrorRateThreshold = 0.99 // isolate the 429 factor
	tr := newTestTracker(cfg)

	tr.Record("bestbuy", Outcome{Success: false, StatusCode: 429})
	d := tr.RecommendedDelay("bestbuy")
	// age ~ 0 so multiplier approaches 1 + 3 = 4x, with a consecutive-failure bump
	assert.Greater(t, d, 3*time.Second)
}

func TestIsHealthy(t *testing.T) {
	tr := newTestTracker(DefaultConfig())

	assert.True(t, tr.IsHealthy("unknown"), "unseen store defaults to healthy")

	for i := 0; i < 9; i++ {
		tr.Record("newegg", Outcome{Success: false, StatusCode: 500})
	}
	// 9 consecutive failures with 100% error rate: error rate trips first
	assert.False(t, tr.IsHealthy("newegg"))

	// mix in successes to drop the rate below 0.8 and reset the streak
	for i := 0; i < 40; i++ {
		tr.Record("newegg", Outcome{Success: true, Duration: 50 * time.Millisecond})
	}
	assert.True(t, tr.IsHealthy("newegg"))
}

func TestConsecutiveFailuresUnhealthy(t *testing.T) {
	tr := newTestTracker(DefaultConfig())

	// keep the error rate low with a large success base first
	for i := 0; i < 90; i++ {
		tr.Record("kohls", Outcome{Success: true})
	}
	for i := 0; i < 10; i++ {
		tr.Record("kohls", Outcome{Success: false, StatusCode: 500})
	}
	assert.False(t, tr.IsHealthy("kohls"), "10 consecutive failures trip the gate")
}

func TestWindowBounded(t *testing.T) {
	tr := newTestTracker(DefaultConfig())
	for i := 0; i < 500; i++ {
		tr.Record("walmart", Outcome{Success: i%2 == 0})
	}
	s := tr.Summarize("walmart")
	assert.Equal(t, windowSize, s.Requests)
}

func TestSummarize(t *testing.T) {
	tr := newTestTracker(DefaultConfig())
	tr.Record("amazon_us", Outcome{Success: true, Duration: 100 * time.Millisecond})
	tr.Record("amazon_us", Outcome{Success: false, StatusCode: 429, Duration: 300 * time.Millisecond})

	s := tr.Summarize("amazon_us")
	assert.Equal(t, 2, s.Requests)
	assert.InDelta(t, 0.5, s.ErrorRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, s.AvgResponseTime)
	assert.NotNil(t, s.Last429At)
	assert.True(t, s.Healthy)
}
