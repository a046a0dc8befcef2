package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricehawk/scan-service/internal/types"
)

type fakeStore struct {
	proxies []types.Proxy
	bumps   []string
}

func (f *fakeStore) ListEnabledProxies(ctx context.Context) ([]types.Proxy, error) {
	return f.proxies, nil
}

func (f *fakeStore) BumpProxyCounters(ctx context.Context, id string, success bool) error {
	f.bumps = append(f.bumps, id)
	return nil
}

func newTestPool(t *testing.T, proxies ...types.Proxy) (*Pool, *fakeStore) {
	t.Helper()
	store := &fakeStore{proxies: proxies}
	pool := NewPool(DefaultConfig(), store, nil, zerolog.Nop())
	require.NoError(t, pool.Refresh(context.Background()))
	return pool, store
}

func dc(id string) types.Proxy {
	return types.Proxy{ID: id, Host: id + ".proxy.example", Port: 8080, Type: types.ProxyDatacenter, Enabled: true}
}

func TestRoundRobinSelection(t *testing.T) {
	pool, _ := newTestPool(t, dc("p1"), dc("p2"), dc("p3"))

	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		px := pool.Next(nil, types.ProxyDatacenter)
		require.NotNil(t, px)
		seen[px.ID]++
	}
	assert.Equal(t, map[string]int{"p1": 2, "p2": 2, "p3": 2}, seen)
}

func TestExcludeSkipsProxies(t *testing.T) {
	pool, _ := newTestPool(t, dc("p1"), dc("p2"))

	px := pool.Next(map[string]bool{"p1": true}, types.ProxyDatacenter)
	require.NotNil(t, px)
	assert.Equal(t, "p2", px.ID)

	px = pool.Next(map[string]bool{"p1": true, "p2": true}, types.ProxyDatacenter)
	assert.Nil(t, px, "fully-excluded pool returns nil, never spins")
}

func TestStrikeOutAfterMaxConsecutive403s(t *testing.T) {
	pool, _ := newTestPool(t, dc("p1"))
	cfg := DefaultConfig()

	for i := 0; i < cfg.MaxConsecutive403s-1; i++ {
		pool.ReportFailure("p1", Failure403)
		// cooldown excludes it already, but strikes are below the cap
		assert.Equal(t, i+1, pool.Strikes("p1"))
	}
	pool.ReportFailure("p1", Failure403)
	assert.Equal(t, cfg.MaxConsecutive403s, pool.Strikes("p1"))
	assert.False(t, pool.Usable("p1"))
	assert.Nil(t, pool.Next(nil, types.ProxyDatacenter))
}

func TestSuccessClearsStrikesAndCooldown(t *testing.T) {
	pool, _ := newTestPool(t, dc("p1"))

	for i := 0; i < 5; i++ {
		pool.ReportFailure("p1", Failure403)
	}
	require.False(t, pool.Usable("p1"))

	pool.ReportSuccess("p1")
	assert.Equal(t, 0, pool.Strikes("p1"))
	assert.True(t, pool.Usable("p1"))
	require.NotNil(t, pool.Next(nil, types.ProxyDatacenter))
}

func TestNon403FailureDoesNotStrike(t *testing.T) {
	pool, _ := newTestPool(t, dc("p1"))

	pool.ReportFailure("p1", FailureTimeout)
	pool.ReportFailure("p1", FailureNetwork)
	assert.Equal(t, 0, pool.Strikes("p1"))
	assert.True(t, pool.Usable("p1"))
}

func TestRefreshPreservesInMemoryState(t *testing.T) {
	pool, store := newTestPool(t, dc("p1"), dc("p2"))

	for i := 0; i < 5; i++ {
		pool.ReportFailure("p1", Failure403)
	}
	require.False(t, pool.Usable("p1"))

	// Reload the same set; p1 must stay struck out
	store.proxies = []types.Proxy{dc("p1"), dc("p2")}
	require.NoError(t, pool.Refresh(context.Background()))
	assert.False(t, pool.Usable("p1"))
	assert.Equal(t, 5, pool.Strikes("p1"))

	// Dropping p1 from config removes its state entirely
	store.proxies = []types.Proxy{dc("p2")}
	require.NoError(t, pool.Refresh(context.Background()))
	assert.Equal(t, 1, pool.Size())
}

func TestTypedSubPools(t *testing.T) {
	resi := types.Proxy{ID: "r1", Host: "r1.proxy.example", Port: 8080, Type: types.ProxyResidential, Enabled: true}
	pool, _ := newTestPool(t, dc("p1"), resi)

	px := pool.Next(nil, types.ProxyResidential)
	require.NotNil(t, px)
	assert.Equal(t, "r1", px.ID)

	assert.Nil(t, pool.Next(nil, types.ProxyISP), "empty sub-pool returns nil")

	// untyped request draws from any pool
	assert.NotNil(t, pool.Next(nil, ""))
}

func TestCountersPersisted(t *testing.T) {
	pool, store := newTestPool(t, dc("p1"))

	pool.ReportSuccess("p1")
	pool.ReportFailure("p1", FailureTimeout)
	assert.Equal(t, []string{"p1", "p1"}, store.bumps)
}

func TestCooldownExpires(t *testing.T) {
	store := &fakeStore{proxies: []types.Proxy{dc("p1")}}
	cfg := Config{MaxConsecutive403s: 5, Cooldown403: 20 * time.Millisecond}
	pool := NewPool(cfg, store, nil, zerolog.Nop())
	require.NoError(t, pool.Refresh(context.Background()))

	pool.ReportFailure("p1", Failure403)
	assert.False(t, pool.Usable("p1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, pool.Usable("p1"), "cooldown elapsed, one strike is below the cap")
}
