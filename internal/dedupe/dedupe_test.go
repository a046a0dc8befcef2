package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduper(t *testing.T) (*Deduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, 10*time.Minute, []string{"slickdeals", "saveyourdeals", "woot"}, zerolog.Nop()), mr
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "asin:B09AAA1234", NormalizeKey("b09aaa1234", ""))
	assert.Equal(t, "asin:B0EXAMPLE1", NormalizeKey("internal-77", "https://www.amazon.com/dp/B0EXAMPLE1?tag=x"))
	assert.Equal(t, "asin:B0EXAMPLE2", NormalizeKey("x", "https://site/product/B0EXAMPLE2/details"))
	assert.Equal(t, "asin:B0EXAMPLE3", NormalizeKey("x", "https://www.amazon.com/gp/product/B0EXAMPLE3"))
	assert.Equal(t, "sku:internal-77", NormalizeKey("internal-77", "https://site/item/internal-77"))
}

// S6: same price on a second aggregator suppresses; a lower price notifies
// again.
func TestCrossSourceScenario(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	first, err := d.Check(ctx, "slickdeals", "B09AAA1234", "https://slickdeals.net/f/x", 29.99)
	require.NoError(t, err)
	assert.Equal(t, Notify, first)

	mirror, err := d.Check(ctx, "saveyourdeals", "B09AAA1234", "https://www.saveyourdeals.com/y", 29.99)
	require.NoError(t, err)
	assert.Equal(t, Suppress, mirror)

	better, err := d.Check(ctx, "woot", "B09AAA1234", "https://www.woot.com/z", 24.99)
	require.NoError(t, err)
	assert.Equal(t, Notify, better)
}

func TestSameStoreSamePriceSuppressed(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	_, err := d.Check(ctx, "woot", "SKU-9", "https://woot/9", 10.00)
	require.NoError(t, err)

	again, err := d.Check(ctx, "woot", "SKU-9", "https://woot/9", 10.00)
	require.NoError(t, err)
	assert.Equal(t, Suppress, again)

	higher, err := d.Check(ctx, "woot", "SKU-9", "https://woot/9", 12.00)
	require.NoError(t, err)
	assert.Equal(t, Suppress, higher, "price regressions never re-notify")
}

// Property: the recorded price only ever decreases within a TTL window
func TestRecordedPriceMonotoneDecreasing(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	prices := []float64{50, 45, 60, 40, 55, 38}
	low := prices[0]
	for _, p := range prices {
		decision, err := d.Check(ctx, "slickdeals", "B0MONOTONE", "", p)
		require.NoError(t, err)
		if p < low {
			low = p
			assert.Equal(t, Notify, decision, "new low must notify")
		} else if p > prices[0] || p > low {
			assert.Equal(t, Suppress, decision)
		}
	}

	final, err := d.Check(ctx, "woot", "B0MONOTONE", "", low)
	require.NoError(t, err)
	assert.Equal(t, Suppress, final, "record floor is the lowest seen price")
}

func TestNonAggregatorAlwaysNotifies(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := d.Check(ctx, "amazon_us", "B09AAA1234", "", 29.99)
		require.NoError(t, err)
		assert.Equal(t, Notify, decision)
	}
}

func TestRecordExpiry(t *testing.T) {
	d, mr := newTestDeduper(t)
	ctx := context.Background()

	_, err := d.Check(ctx, "woot", "SKU-TTL", "", 15.00)
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)
	decision, err := d.Check(ctx, "slickdeals", "SKU-TTL", "", 15.00)
	require.NoError(t, err)
	assert.Equal(t, Notify, decision, "expired record resets the identity")
}

func TestASINUnifiesAcrossSources(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	_, err := d.Check(ctx, "slickdeals", "deal-123", "https://www.amazon.com/dp/B0UNIFIED9", 20)
	require.NoError(t, err)

	mirror, err := d.Check(ctx, "woot", "B0UNIFIED9", "https://woot/offer", 20)
	require.NoError(t, err)
	assert.Equal(t, Suppress, mirror, "URL-derived and literal ASIN share a record")
}
