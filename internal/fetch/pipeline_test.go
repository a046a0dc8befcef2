package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricehawk/scan-service/internal/health"
	"github.com/pricehawk/scan-service/internal/httpcache"
	"github.com/pricehawk/scan-service/internal/ratelimit"
	"github.com/pricehawk/scan-service/internal/session"
)

func testPolicy(store string) SitePolicy {
	p := DefaultPolicy(store)
	p.InitialBackoff = 5 * time.Millisecond
	p.MaxBackoff = 20 * time.Millisecond
	p.ProductIndicators = []string{"product-card"}
	return p
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.Policies == nil {
		opts.Policies = NewPolicyTable()
		opts.Policies.Set(testPolicy("teststore"))
	}
	return NewPipeline(opts, nil, zerolog.Nop())
}

func TestFetchOKHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><div class="product-card">Widget</div></html>`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeOKHTML, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, string(res.Body), "product-card")
	assert.NoError(t, res.Err)
}

func TestFetchEmbeddedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><script id="__NEXT_DATA__" type="application/json">{"props":{"items":[1,2]}}</script></html>`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeOKJSON, res.Outcome)
	assert.Contains(t, string(res.EmbeddedJSON), `"items"`)
}

// A 200 served from a blocked path is still a block, and must not retry.
func TestFetchBlockedURLPrecedesStatus(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/blocked", http.StatusFound)
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`<html><div class="product-card">looks fine</div></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL + "/search", Store: "teststore"})

	require.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, "blocked_url", res.BlockType)
	assert.Equal(t, int32(2), hits.Load(), "should not retry a blocked URL")

	var blocked *BlockedError
	require.ErrorAs(t, res.Err, &blocked)
	assert.Contains(t, blocked.URL, "/blocked")
}

func TestFetch403NoRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, "http_403", res.BlockType)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch404Permanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, int32(1), hits.Load())

	var nf *NotFoundError
	assert.ErrorAs(t, res.Err, &nf)
}

// 429 with Retry-After is honoured, then the retry succeeds.
func TestFetchRetryAfterThenOK(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`<html><div class="product-card">back</div></html>`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	start := time.Now()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeOKHTML, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After must be honoured")
}

// A 429 answered by a successful retry still lands in store health and
// pushes the host into limiter cooldown for the Retry-After span.
func TestFetchIntermediate429Recorded(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`<html><div class="product-card">back</div></html>`))
	}))
	defer srv.Close()

	tracker := health.NewTracker(health.DefaultConfig(), nil, zerolog.Nop())
	limiter := ratelimit.New(ratelimit.HostConfig{Mode: ratelimit.ModeInterval})
	p := newTestPipeline(t, Options{Health: tracker, Limiter: limiter})

	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})
	require.Equal(t, OutcomeOKHTML, res.Outcome)

	sum := tracker.Summarize("teststore")
	require.NotNil(t, sum.Last429At, "mid-fetch 429 must be recorded")
	assert.WithinDuration(t, time.Now(), *sum.Last429At, 5*time.Second)
	assert.Equal(t, 2, sum.Requests, "one 429 outcome plus the final success")

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	assert.False(t, limiter.CooldownUntil(u.Hostname()).IsZero(), "Retry-After must set a host cooldown")
}

func TestFetch5xxExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeRetryableNet, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())

	var retry *RetryError
	require.ErrorAs(t, res.Err, &retry)
	assert.Equal(t, http.StatusBadGateway, retry.LastStatus)
}

func TestFetchBotChallengeDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>Please complete the CAPTCHA to continue</body></html>`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, "captcha", res.BlockType)
}

func TestFetchParsingEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>Nothing matching here</body></html>`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeParsingEmpty, res.Outcome)
}

func TestFetchCachedRevalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache := httpcache.New(rdb, time.Hour, true, nil, zerolog.Nop())

	page := []byte(`<html><div class="product-card">cached page</div></html>`)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write(page)
	}))
	defer srv.Close()

	p := newTestPipeline(t, Options{Cache: cache})

	first := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})
	require.Equal(t, OutcomeOKHTML, first.Outcome)
	assert.False(t, first.FromCache)

	second := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore"})
	require.Equal(t, OutcomeOKHTML, second.Outcome)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchSessionCookiesRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	sessions := session.NewStore(rdb, time.Hour, zerolog.Nop())

	var sawCookie atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session_id"); err == nil && c.Value == "abc123" {
			sawCookie.Store(true)
		}
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc123", Path: "/"})
		w.Write([]byte(`<html><div class="product-card">x</div></html>`))
	}))
	defer srv.Close()

	key := session.Key{Store: "teststore", ProxyID: "direct", UAHash: session.HashUA("test-ua")}
	p := newTestPipeline(t, Options{Sessions: sessions})

	first := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore", SessionKey: &key, UserAgent: "test-ua"})
	require.Equal(t, OutcomeOKHTML, first.Outcome)
	assert.False(t, sawCookie.Load())

	second := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore", SessionKey: &key, UserAgent: "test-ua"})
	require.Equal(t, OutcomeOKHTML, second.Outcome)
	assert.True(t, sawCookie.Load(), "cookie from first response should be replayed")
}

func TestFetchContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := newTestPipeline(t, Options{})
	res := p.Fetch(ctx, Request{URL: srv.URL, Store: "teststore"})

	require.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Error(t, res.Err)
}

func TestClientMapReuse(t *testing.T) {
	p := newTestPipeline(t, Options{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div class="product-card"></div>`))
	}))
	defer srv.Close()

	for i := 0; i < 3; i++ {
		res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "teststore", UserAgent: "same-ua"})
		require.True(t, res.Outcome.Success())
	}
	assert.Equal(t, 1, p.clients.size(), "same host+ua+timeout should share one client")
}
