package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricehawk/scan-service/internal/dedupe"
	"github.com/pricehawk/scan-service/internal/types"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []*types.Alert
}

func (s *captureSink) Emit(ctx context.Context, alert *types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func ptr(v float64) *float64 { return &v }

func newTestPipeline(t *testing.T, crossSource bool) (*Pipeline, *captureSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var xs *dedupe.Deduper
	if crossSource {
		xs = dedupe.New(rdb, 10*time.Minute, []string{"slickdeals", "woot"}, zerolog.Nop())
	}
	sink := &captureSink{}
	return New(rdb, DefaultConfig(), xs, sink, nil, zerolog.Nop()), sink, mr
}

func deal(store, sku string, price float64) *types.DetectedDeal {
	return &types.DetectedDeal{
		Product: types.DiscoveredProduct{
			SKU:          sku,
			Title:        "Test Item",
			URL:          "https://x/" + sku,
			Store:        store,
			CurrentPrice: ptr(price),
		},
		DiscountPercent: 75,
		Method:          types.MethodStrikethrough,
		Confidence:      0.8,
		Signals:         []string{"strikethrough"},
	}
}

func TestProcessEmitsOnce(t *testing.T) {
	p, sink, _ := newTestPipeline(t, false)
	ctx := context.Background()

	ok, err := p.Process(ctx, deal("amazon_us", "B0TEST", 49.99))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Process(ctx, deal("amazon_us", "B0TEST", 49.99))
	require.NoError(t, err)
	assert.False(t, ok, "second identical deal is suppressed")
	assert.Equal(t, 1, sink.count())
}

func TestCooldownBypassedByLowerPrice(t *testing.T) {
	p, sink, _ := newTestPipeline(t, false)
	ctx := context.Background()

	ok, err := p.Process(ctx, deal("amazon_us", "B0TEST", 49.99))
	require.NoError(t, err)
	require.True(t, ok)

	// Same sku, higher price: still cooling down
	ok, err = p.Process(ctx, deal("amazon_us", "B0TEST", 59.99))
	require.NoError(t, err)
	assert.False(t, ok)

	// Same sku, better price: bypass
	ok, err = p.Process(ctx, deal("amazon_us", "B0TEST", 39.99))
	require.NoError(t, err)
	assert.True(t, ok)

	require.Equal(t, 2, sink.count())
	second := sink.alerts[1]
	require.NotNil(t, second.PreviousPrice)
	assert.InDelta(t, 49.99, *second.PreviousPrice, 0.001)
}

func TestCooldownExpiry(t *testing.T) {
	p, sink, mr := newTestPipeline(t, false)
	ctx := context.Background()

	ok, err := p.Process(ctx, deal("amazon_us", "B0TEST", 49.99))
	require.NoError(t, err)
	require.True(t, ok)

	// Past the cooldown but inside the 12h dedupe window: same rounded
	// price still suppressed, different price allowed.
	mr.FastForward(2 * time.Hour)

	ok, err = p.Process(ctx, deal("amazon_us", "B0TEST", 49.99))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Process(ctx, deal("amazon_us", "B0TEST", 44.99))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, sink.count())
}

// At-most-once under concurrency: many goroutines racing on the same deal
// produce exactly one alert.
func TestConcurrentDuplicateEmitsOnce(t *testing.T) {
	p, sink, _ := newTestPipeline(t, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Process(ctx, deal("amazon_us", "B0RACE", 19.99))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sink.count())
}

func TestCrossSourceSuppression(t *testing.T) {
	p, sink, _ := newTestPipeline(t, true)
	ctx := context.Background()

	ok, err := p.Process(ctx, deal("slickdeals", "B09AAA1234", 29.99))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Process(ctx, deal("woot", "B09AAA1234", 29.99))
	require.NoError(t, err)
	assert.False(t, ok, "same ASIN and price from a second aggregator")

	ok, err = p.Process(ctx, deal("woot", "B09AAA1234", 24.99))
	require.NoError(t, err)
	assert.True(t, ok, "lower price passes cross-source and cooldown bypass")

	assert.Equal(t, 2, sink.count())
}

func TestProcessBatch(t *testing.T) {
	p, sink, _ := newTestPipeline(t, false)

	deals := []types.DetectedDeal{
		*deal("amazon_us", "A1", 10),
		*deal("amazon_us", "A1", 10), // duplicate
		*deal("amazon_us", "A2", 20),
	}
	emitted, err := p.ProcessBatch(context.Background(), deals)
	require.NoError(t, err)
	assert.Equal(t, 2, emitted)
	assert.Equal(t, 2, sink.count())
}

func TestProcessSkipsUnpriced(t *testing.T) {
	p, sink, _ := newTestPipeline(t, false)
	d := deal("amazon_us", "A1", 0)
	d.Product.CurrentPrice = nil

	ok, err := p.Process(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, sink.count())
}

func TestAlertFieldsPopulated(t *testing.T) {
	p, sink, _ := newTestPipeline(t, false)

	d := deal("amazon_us", "B0FLD", 25)
	d.Product.OriginalPrice = ptr(100)
	d.Product.MSRP = ptr(120)
	d.Product.ImageURL = "https://img/x.jpg"

	ok, err := p.Process(context.Background(), d)
	require.NoError(t, err)
	require.True(t, ok)

	a := sink.alerts[0]
	assert.Equal(t, "amazon_us", a.Store)
	assert.InDelta(t, 25, a.CurrentPrice, 0.001)
	assert.NotNil(t, a.Baseline)
	assert.NotNil(t, a.MSRP)
	assert.Equal(t, "https://img/x.jpg", a.ImageURL)
	assert.Contains(t, a.Reason, "75%")
	assert.False(t, a.DetectedAt.IsZero())
}
