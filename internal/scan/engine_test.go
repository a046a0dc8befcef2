package scan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricehawk/scan-service/internal/deals"
	"github.com/pricehawk/scan-service/internal/fetch"
	"github.com/pricehawk/scan-service/internal/parsers"
	"github.com/pricehawk/scan-service/internal/types"
)

// lineParser reads "sku|title|current|original" product lines and a
// "next:<url>" pagination line from plain test pages
type lineParser struct{ store string }

func (p *lineParser) Store() string { return p.store }

func (p *lineParser) Extract(body []byte, pageURL string) ([]types.DiscoveredProduct, error) {
	var products []types.DiscoveredProduct
	for _, line := range strings.Split(string(body), "\n") {
		fields := strings.Split(strings.TrimSpace(line), "|")
		if len(fields) != 4 {
			continue
		}
		prod := types.DiscoveredProduct{
			SKU:   fields[0],
			Title: fields[1],
			URL:   "https://x/" + fields[0],
			Store: p.store,
		}
		var current, original float64
		if _, err := fmt.Sscanf(fields[2], "%f", &current); err == nil && current > 0 {
			prod.CurrentPrice = &current
		}
		if _, err := fmt.Sscanf(fields[3], "%f", &original); err == nil && original > 0 {
			prod.OriginalPrice = &original
		}
		products = append(products, prod)
	}
	return products, nil
}

func (p *lineParser) NextPageURL(body []byte, pageURL string) string {
	for _, line := range strings.Split(string(body), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "next:"); ok {
			return rest
		}
	}
	return ""
}

// memStore is an in-memory Store for engine tests
type memStore struct {
	mu         sync.Mutex
	exclusions []types.ProductExclusion
	updates    [][]CategoryStatsUpdate
	disabled   []string
	jobs       map[string]*types.ScanJob
	statuses   []types.ScanJobStatus
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*types.ScanJob)}
}

func (m *memStore) ListExclusions(ctx context.Context, store string) ([]types.ProductExclusion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exclusions, nil
}

func (m *memStore) BatchUpdateCategoryStats(ctx context.Context, updates []CategoryStatsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, updates)
	return nil
}

func (m *memStore) SetCategoryEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !enabled {
		m.disabled = append(m.disabled, id)
	}
	return nil
}

func (m *memStore) CreateScanJob(ctx context.Context, job *types.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	m.statuses = append(m.statuses, job.Status)
	return nil
}

func (m *memStore) UpdateScanJob(ctx context.Context, job *types.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	m.statuses = append(m.statuses, job.Status)
	return nil
}

func testEngine(t *testing.T, cfg Config, store Store) *Engine {
	t.Helper()
	registry := parsers.NewRegistry()
	registry.Register(&lineParser{store: "teststore"})

	policies := fetch.NewPolicyTable()
	pol := fetch.DefaultPolicy("teststore")
	pol.ProductIndicators = nil // plain-text fixtures carry no DOM markers
	pol.InitialBackoff = 5 * time.Millisecond
	pol.MaxBackoff = 20 * time.Millisecond
	policies.Set(pol)

	pipeline := fetch.NewPipeline(fetch.Options{Policies: policies}, nil, zerolog.Nop())
	detector := deals.NewDetector(nil, zerolog.Nop())
	return NewEngine(cfg, pipeline, registry, nil, detector, nil, store, nil, zerolog.Nop())
}

func category(url string) *types.Category {
	return &types.Category{
		ID:       "cat1",
		Store:    "teststore",
		Name:     "electronics",
		URL:      url,
		Enabled:  true,
		MaxPages: 5,
	}
}

func TestScanCategorySinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "SKU1|Gaming Laptop|499.99|999.99")
		fmt.Fprintln(w, "SKU2|USB Cable|9.99|10.99")
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MinPageDelay, cfg.MaxPageDelay = 0, 0
	e := testEngine(t, cfg, nil)

	res := e.ScanCategory(context.Background(), category(srv.URL))
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.PagesScanned)
	assert.Equal(t, 2, res.ProductsFound)
	assert.Equal(t, 2, res.ProductsKept)
	require.Equal(t, 1, res.DealsFound)
	assert.Equal(t, "SKU1", res.Deals[0].Product.SKU)
	assert.InDelta(t, 50.0, res.Deals[0].DiscountPercent, 0.1)
}

func TestScanCategoryPagination(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/p1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "A|Item A|10|0")
		fmt.Fprintln(w, "next:"+srv.URL+"/p2")
	})
	mux.HandleFunc("/p2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "B|Item B|20|0")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MinPageDelay, cfg.MaxPageDelay = time.Millisecond, 2*time.Millisecond
	e := testEngine(t, cfg, nil)

	res := e.ScanCategory(context.Background(), category(srv.URL+"/p1"))
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.PagesScanned)
	assert.Equal(t, 2, res.ProductsFound)
}

func TestScanCategoryMaxPagesCap(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "X"+r.URL.Path+"|Item|10|0")
		fmt.Fprintln(w, "next:"+srv.URL+r.URL.Path+"x")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MinPageDelay, cfg.MaxPageDelay = 0, 0
	cfg.MaxPagesPerCategory = 3
	e := testEngine(t, cfg, nil)

	cat := category(srv.URL + "/p")
	cat.MaxPages = 99 // engine cap wins
	res := e.ScanCategory(context.Background(), cat)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.PagesScanned)
}

func TestScanCategoryNoParser(t *testing.T) {
	e := testEngine(t, DefaultConfig(), nil)
	cat := category("https://x/c")
	cat.Store = "unknownstore"

	res := e.ScanCategory(context.Background(), cat)
	var cfgErr *ConfigError
	require.ErrorAs(t, res.Err, &cfgErr)
}

func TestScanCategoryRelativeURLUnknownStore(t *testing.T) {
	registryStore := "teststore"
	e := testEngine(t, DefaultConfig(), nil)
	cat := category("/browse/deals")
	cat.Store = registryStore

	res := e.ScanCategory(context.Background(), cat)
	var cfgErr *ConfigError
	require.ErrorAs(t, res.Err, &cfgErr, "teststore has no base URL entry")
}

func TestBuildCategoryURL(t *testing.T) {
	abs := &types.Category{ID: "a", Store: "walmart", URL: "https://www.walmart.com/browse/tv"}
	got, err := buildCategoryURL(abs)
	require.NoError(t, err)
	assert.Equal(t, abs.URL, got)

	rel := &types.Category{ID: "b", Store: "walmart", URL: "/browse/tv"}
	got, err = buildCategoryURL(rel)
	require.NoError(t, err)
	assert.Equal(t, "https://www.walmart.com/browse/tv", got)
}

func TestScanManyLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "S1|Widget|25|100")
	}))
	defer srv.Close()

	store := newMemStore()
	cfg := DefaultConfig()
	cfg.MinPageDelay, cfg.MaxPageDelay = 0, 0
	cfg.DBBatchUpdateSize = 2
	e := testEngine(t, cfg, store)

	var cats []*types.Category
	for i := 0; i < 5; i++ {
		c := category(srv.URL)
		c.ID = fmt.Sprintf("cat%d", i)
		cats = append(cats, c)
	}

	var resultCount int
	var mu sync.Mutex
	job := &types.ScanJob{ID: "job1", Kind: types.JobManual}
	progress, err := e.ScanMany(context.Background(), job, cats, func(c *types.Category, r *types.ScanResult) {
		mu.Lock()
		resultCount++
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, 5, job.CompletedCategories)
	assert.Equal(t, 5, job.TotalProducts)
	assert.Equal(t, 5, job.TotalDeals)
	assert.Empty(t, job.Errors)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 5, resultCount)
	assert.Len(t, progress.Snapshot(), 5)

	// Status walked pending → running → completed
	require.GreaterOrEqual(t, len(store.statuses), 3)
	assert.Equal(t, types.JobPending, store.statuses[0])
	assert.Equal(t, types.JobRunning, store.statuses[1])
	assert.Equal(t, types.JobCompleted, store.statuses[len(store.statuses)-1])

	// 5 results in batches of 2 → 3 flushes
	total := 0
	for _, batch := range store.updates {
		assert.LessOrEqual(t, len(batch), 2)
		total += len(batch)
	}
	assert.Equal(t, 5, total)
}

func TestScanManyDisableOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newMemStore()
	cfg := DefaultConfig()
	cfg.MinPageDelay, cfg.MaxPageDelay = 0, 0
	cfg.DisableOn404 = true
	e := testEngine(t, cfg, store)

	job := &types.ScanJob{ID: "job404", Kind: types.JobScheduled}
	_, err := e.ScanMany(context.Background(), job, []*types.Category{category(srv.URL)}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.JobCompleted, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Contains(t, store.disabled, "cat1")
	require.Len(t, store.updates, 1)
	assert.NotEmpty(t, store.updates[0][0].LastError)
}

func TestScanManyCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprintln(w, "S1|Widget|25|100")
	}))
	defer srv.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.MinPageDelay, cfg.MaxPageDelay = 0, 0
	cfg.MaxParallelCategories = 1
	e := testEngine(t, cfg, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	job := &types.ScanJob{ID: "jobc", Kind: types.JobManual}
	cats := []*types.Category{category(srv.URL), category(srv.URL), category(srv.URL)}
	_, err := e.ScanMany(ctx, job, cats, nil)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Less(t, job.CompletedCategories, 3)
}

func TestScanCategoryAppliesExclusions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "GOOD|Monitor|100|300")
		fmt.Fprintln(w, "BANNED|Monitor Clone|50|300")
	}))
	defer srv.Close()

	store := newMemStore()
	store.exclusions = []types.ProductExclusion{{Kind: types.ExcludeSKU, Value: "BANNED", Store: "*"}}

	cfg := DefaultConfig()
	cfg.MinPageDelay, cfg.MaxPageDelay = 0, 0
	e := testEngine(t, cfg, store)

	res := e.ScanCategory(context.Background(), category(srv.URL))
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.ProductsFound)
	assert.Equal(t, 1, res.ProductsKept)
	assert.Equal(t, "GOOD", res.Products[0].SKU)
}
