package delta

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricehawk/scan-service/internal/types"
)

func ptr(v float64) *float64 { return &v }

func newTestDetector(t *testing.T, enabled bool) (*Detector, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Hour, enabled, nil, zerolog.Nop()), mr
}

func product(sku string, current, original *float64) types.DiscoveredProduct {
	return types.DiscoveredProduct{SKU: sku, URL: "https://x/" + sku, CurrentPrice: current, OriginalPrice: original}
}

func TestHashNormalisesAbsentPrices(t *testing.T) {
	withNil := product("A", nil, nil)
	withZero := product("A", ptr(0), ptr(0))
	assert.Equal(t, Hash(withNil), Hash(withZero))

	priced := product("A", ptr(9.99), nil)
	assert.NotEqual(t, Hash(withNil), Hash(priced))
}

func TestHasChangedUnseenProduct(t *testing.T) {
	d, _ := newTestDetector(t, true)
	changed, err := d.HasChanged(context.Background(), product("NEW", ptr(10), nil), "store1")
	require.NoError(t, err)
	assert.True(t, changed)
}

// mark → filter → nothing; change price → shows up again
func TestFilterChangedIdempotence(t *testing.T) {
	d, _ := newTestDetector(t, true)
	ctx := context.Background()

	batch := []types.DiscoveredProduct{
		product("A", ptr(10), ptr(20)),
		product("B", ptr(5), nil),
	}

	first := d.FilterChanged(ctx, batch, "store1")
	assert.Len(t, first, 2, "unseen products all pass")

	require.NoError(t, d.MarkSeen(ctx, batch, "store1"))
	second := d.FilterChanged(ctx, append([]types.DiscoveredProduct(nil), batch...), "store1")
	assert.Empty(t, second, "marked batch is fully skipped")

	batch[0].CurrentPrice = ptr(8.50)
	third := d.FilterChanged(ctx, append([]types.DiscoveredProduct(nil), batch...), "store1")
	require.Len(t, third, 1)
	assert.Equal(t, "A", third[0].SKU)
}

func TestFilterChangedDisabledPassThrough(t *testing.T) {
	d, _ := newTestDetector(t, false)
	ctx := context.Background()

	batch := []types.DiscoveredProduct{product("A", ptr(10), nil)}
	require.NoError(t, d.MarkSeen(ctx, batch, "store1"))

	out := d.FilterChanged(ctx, batch, "store1")
	assert.Len(t, out, 1)

	changed, err := d.HasChanged(ctx, batch[0], "store1")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestStoresDoNotShareHashes(t *testing.T) {
	d, _ := newTestDetector(t, true)
	ctx := context.Background()

	batch := []types.DiscoveredProduct{product("A", ptr(10), nil)}
	require.NoError(t, d.MarkSeen(ctx, batch, "store1"))

	assert.Empty(t, d.FilterChanged(ctx, batch, "store1"))
	assert.Len(t, d.FilterChanged(ctx, batch, "store2"), 1)
}

func TestInvalidate(t *testing.T) {
	d, _ := newTestDetector(t, true)
	ctx := context.Background()

	batch := []types.DiscoveredProduct{
		product("A", ptr(10), nil),
		product("B", ptr(20), nil),
	}
	require.NoError(t, d.MarkSeen(ctx, batch, "store1"))

	require.NoError(t, d.Invalidate(ctx, "store1", "A"))
	out := d.FilterChanged(ctx, batch, "store1")
	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].SKU)
}

func TestInvalidateStore(t *testing.T) {
	d, _ := newTestDetector(t, true)
	ctx := context.Background()

	s1 := []types.DiscoveredProduct{product("A", ptr(10), nil), product("B", ptr(20), nil)}
	s2 := []types.DiscoveredProduct{product("A", ptr(10), nil)}
	require.NoError(t, d.MarkSeen(ctx, s1, "store1"))
	require.NoError(t, d.MarkSeen(ctx, s2, "store2"))

	n, err := d.InvalidateStore(ctx, "store1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, d.FilterChanged(ctx, s1, "store1"), 2)
	assert.Empty(t, d.FilterChanged(ctx, s2, "store2"), "other store untouched")
}

func TestMarkSeenTTLExpiry(t *testing.T) {
	d, mr := newTestDetector(t, true)
	ctx := context.Background()

	batch := []types.DiscoveredProduct{product("A", ptr(10), nil)}
	require.NoError(t, d.MarkSeen(ctx, batch, "store1"))
	assert.Empty(t, d.FilterChanged(ctx, batch, "store1"))

	mr.FastForward(2 * time.Hour)
	assert.Len(t, d.FilterChanged(ctx, batch, "store1"), 1, "expired hash counts as changed")
}
