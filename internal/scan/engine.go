// Package scan drives per-category listing scans: page discovery, filtering,
// delta-skipping and deal detection, bounded by global and per-category
// concurrency caps.
package scan

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/pricehawk/scan-service/internal/deals"
	"github.com/pricehawk/scan-service/internal/delta"
	"github.com/pricehawk/scan-service/internal/fetch"
	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/parsers"
	"github.com/pricehawk/scan-service/internal/proxy"
	"github.com/pricehawk/scan-service/internal/session"
	"github.com/pricehawk/scan-service/internal/types"
)

// storeBaseURLs joins relative category paths per store tag
var storeBaseURLs = map[string]string{
	"amazon_us":     "https://www.amazon.com",
	"walmart":       "https://www.walmart.com",
	"target":        "https://www.target.com",
	"bestbuy":       "https://www.bestbuy.com",
	"slickdeals":    "https://slickdeals.net",
	"woot":          "https://www.woot.com",
	"saveyourdeals": "https://www.saveyourdeals.com",
}

// Store is the persistence surface the engine needs
type Store interface {
	ListExclusions(ctx context.Context, store string) ([]types.ProductExclusion, error)
	BatchUpdateCategoryStats(ctx context.Context, updates []CategoryStatsUpdate) error
	SetCategoryEnabled(ctx context.Context, categoryID string, enabled bool) error
	CreateScanJob(ctx context.Context, job *types.ScanJob) error
	UpdateScanJob(ctx context.Context, job *types.ScanJob) error
}

// CategoryStatsUpdate is one row of post-scan category bookkeeping
type CategoryStatsUpdate struct {
	CategoryID    string
	ScannedAt     time.Time
	ProductsFound int
	DealsFound    int
	LastError     string
	LastErrorAt   *time.Time
}

// Config tunes the engine
type Config struct {
	MaxParallelCategories  int64
	MaxPagesPerCategory    int // upper bound over category.MaxPages
	MaxParallelPages       int64
	AmazonMaxParallelPages int64
	MinPageDelay           time.Duration
	MaxPageDelay           time.Duration
	ProxyAttemptsPerPage   int
	GlobalMinDiscount      float64
	DBBatchUpdateSize      int
	DisableOn404           bool
	Filters                GlobalFilters
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		MaxParallelCategories:  4,
		MaxPagesPerCategory:    10,
		MaxParallelPages:       3,
		AmazonMaxParallelPages: 1,
		MinPageDelay:           2 * time.Second,
		MaxPageDelay:           6 * time.Second,
		ProxyAttemptsPerPage:   3,
		GlobalMinDiscount:      40,
		DBBatchUpdateSize:      10,
		DisableOn404:           true,
	}
}

// Engine composes the fetch pipeline with parsing, filtering, delta and deal
// detection
type Engine struct {
	cfg      Config
	pipeline *fetch.Pipeline
	registry *parsers.Registry
	delta    *delta.Detector
	deals    *deals.Detector
	proxies  *proxy.Pool
	store    Store
	metrics  *metrics.Recorder
	logger   zerolog.Logger

	sem    *semaphore.Weighted
	uaPool *fetch.UAPool

	mu       sync.Mutex
	pageSems map[string]*semaphore.Weighted
}

// NewEngine wires a scan engine. store may be nil for persistence-free use.
func NewEngine(cfg Config, pipeline *fetch.Pipeline, registry *parsers.Registry, deltaDet *delta.Detector, dealDet *deals.Detector, proxies *proxy.Pool, store Store, rec *metrics.Recorder, logger zerolog.Logger) *Engine {
	if cfg.MaxParallelCategories <= 0 {
		cfg.MaxParallelCategories = 1
	}
	if cfg.MaxParallelPages <= 0 {
		cfg.MaxParallelPages = 1
	}
	return &Engine{
		cfg:      cfg,
		pipeline: pipeline,
		registry: registry,
		delta:    deltaDet,
		deals:    dealDet,
		proxies:  proxies,
		store:    store,
		metrics:  rec,
		logger:   logger.With().Str("component", "scan_engine").Logger(),
		sem:      semaphore.NewWeighted(cfg.MaxParallelCategories),
		uaPool:   fetch.NewUAPool(),
		pageSems: make(map[string]*semaphore.Weighted),
	}
}

// pageSem returns the per-store page semaphore, Amazon capped lower
func (e *Engine) pageSem(store string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sem, ok := e.pageSems[store]; ok {
		return sem
	}
	cap := e.cfg.MaxParallelPages
	if strings.HasPrefix(store, "amazon") && e.cfg.AmazonMaxParallelPages > 0 {
		cap = e.cfg.AmazonMaxParallelPages
	}
	sem := semaphore.NewWeighted(cap)
	e.pageSems[store] = sem
	return sem
}

// buildCategoryURL resolves relative category URLs against the store base
func buildCategoryURL(cat *types.Category) (string, error) {
	raw := strings.TrimSpace(cat.URL)
	if raw == "" {
		return "", &ConfigError{CategoryID: cat.ID, Reason: "empty URL"}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", &ConfigError{CategoryID: cat.ID, Reason: "malformed URL", Err: err}
	}
	if parsed.IsAbs() {
		return raw, nil
	}
	base, ok := storeBaseURLs[strings.ToLower(cat.Store)]
	if !ok {
		return "", &ConfigError{CategoryID: cat.ID, Reason: "no base URL for store " + cat.Store}
	}
	baseURL, _ := url.Parse(base)
	return baseURL.ResolveReference(parsed).String(), nil
}

// ScanCategory runs one category end to end
func (e *Engine) ScanCategory(ctx context.Context, cat *types.Category) *types.ScanResult {
	start := time.Now()
	result := &types.ScanResult{CategoryID: cat.ID, Store: cat.Store}
	defer func() {
		result.Duration = time.Since(start)
		if result.Err != nil {
			result.ErrMessage = result.Err.Error()
		}
		if e.metrics != nil {
			e.metrics.RecordScanDuration(cat.Store, result.Duration)
		}
	}()

	if e.metrics != nil {
		e.metrics.RecordScanAttempt(cat.Store)
		e.metrics.IncActiveScans()
		defer e.metrics.DecActiveScans()
	}

	if !e.registry.IsRegistered(cat.Store) {
		result.Err = &ConfigError{CategoryID: cat.ID, Reason: "no parser for store " + cat.Store}
		return result
	}

	pageURL, err := buildCategoryURL(cat)
	if err != nil {
		result.Err = err
		return result
	}

	filter, err := e.loadFilter(ctx, cat)
	if err != nil {
		result.Err = err
		return result
	}

	maxPages := cat.MaxPages
	if maxPages <= 0 || (e.cfg.MaxPagesPerCategory > 0 && maxPages > e.cfg.MaxPagesPerCategory) {
		maxPages = e.cfg.MaxPagesPerCategory
	}

	var all []types.DiscoveredProduct
	sem := e.pageSem(cat.Store)

	for page := 1; page <= maxPages && pageURL != ""; page++ {
		if page > 1 {
			if err := sleepCtx(ctx, e.pageDelay()); err != nil {
				result.Err = err
				return result
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			result.Err = err
			return result
		}
		res := e.fetchPage(ctx, cat, pageURL)
		sem.Release(1)

		if !res.Outcome.Success() {
			// Page 1 failing is a category failure; later pages keep what
			// we already have.
			if page == 1 {
				result.Err = res.Err
				return result
			}
			e.logger.Warn().Str("category", cat.Name).Int("page", page).Str("outcome", string(res.Outcome)).Msg("Page fetch failed, keeping partial scan")
			break
		}
		result.PagesScanned++

		products, err := e.registry.Extract(cat.Store, res.Body, pageURL)
		if err != nil {
			if page == 1 {
				result.Err = err
				return result
			}
			break
		}
		for i := range products {
			products[i].CategoryID = cat.ID
		}
		all = append(all, products...)

		parser, _ := e.registry.Get(cat.Store)
		pageURL = parser.NextPageURL(res.Body, pageURL)
	}

	result.ProductsFound = len(all)
	if e.metrics != nil {
		e.metrics.RecordProductsDiscovered(cat.Store, len(all))
	}

	kept := filter.apply(all)

	if e.delta != nil {
		kept = e.delta.FilterChanged(ctx, kept, cat.Store)
	}
	result.ProductsKept = len(kept)
	result.Products = kept

	floor := cat.MinDiscountPercent
	if e.cfg.GlobalMinDiscount > floor {
		floor = e.cfg.GlobalMinDiscount
	}
	result.Deals = e.deals.DetectForCategory(kept, cat.Name, cat.Store, floor)
	result.DealsFound = len(result.Deals)

	// Mark survivors only after detection committed, so a crash mid-scan
	// re-surfaces them next run.
	if e.delta != nil && len(kept) > 0 {
		if err := e.delta.MarkSeen(ctx, kept, cat.Store); err != nil {
			e.logger.Warn().Err(err).Str("category", cat.Name).Msg("Failed to mark products seen")
		}
	}

	e.logger.Info().
		Str("category", cat.Name).
		Str("store", cat.Store).
		Int("pages", result.PagesScanned).
		Int("products", result.ProductsFound).
		Int("kept", result.ProductsKept).
		Int("deals", result.DealsFound).
		Dur("duration", time.Since(start)).
		Msg("Category scan finished")
	return result
}

func (e *Engine) loadFilter(ctx context.Context, cat *types.Category) (*productFilter, error) {
	var exclusions []types.ProductExclusion
	if e.store != nil {
		var err error
		exclusions, err = e.store.ListExclusions(ctx, cat.Store)
		if err != nil {
			return nil, fmt.Errorf("load exclusions for %s: %w", cat.Store, err)
		}
	}
	return compileFilter(cat, exclusions, e.cfg.Filters)
}

// fetchPage fetches one page, rotating proxies on failure. The exclusion set
// grows monotonically within the page cycle so no proxy is tried twice.
func (e *Engine) fetchPage(ctx context.Context, cat *types.Category, pageURL string) *fetch.Result {
	attempts := e.cfg.ProxyAttemptsPerPage
	if attempts < 1 {
		attempts = 1
	}
	ua := e.uaPool.Next()
	exclude := make(map[string]bool)

	var res *fetch.Result
	for i := 0; i < attempts; i++ {
		var px *types.Proxy
		if e.proxies != nil {
			px = e.proxies.Next(exclude, "")
		}
		req := fetch.Request{URL: pageURL, Store: cat.Store, Proxy: px, UserAgent: ua}
		if px != nil {
			key := session.Key{Store: cat.Store, ProxyID: px.ID, UAHash: session.HashUA(ua)}
			req.SessionKey = &key
			exclude[px.ID] = true
		}

		res = e.pipeline.Fetch(ctx, req)
		if res.Outcome.Success() {
			return res
		}
		// Permanent outcomes are not proxy problems; rotating won't help
		if res.Outcome == fetch.OutcomeNotFound || ctx.Err() != nil {
			return res
		}
		if px == nil {
			// Already went direct; nothing left to rotate to
			return res
		}
	}
	return res
}

func (e *Engine) pageDelay() time.Duration {
	min, max := e.cfg.MinPageDelay, e.cfg.MaxPageDelay
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// Progress tracks a batch scan as categories complete
type Progress struct {
	mu      sync.Mutex
	Results []*types.ScanResult
}

func (p *Progress) add(r *types.ScanResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Results = append(p.Results, r)
}

// Snapshot returns a copy of the completed results
func (p *Progress) Snapshot() []*types.ScanResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.ScanResult, len(p.Results))
	copy(out, p.Results)
	return out
}

// ScanMany scans a batch of categories under the engine semaphore, tracking a
// ScanJob through its lifecycle. onResult runs per finished category.
func (e *Engine) ScanMany(ctx context.Context, job *types.ScanJob, categories []*types.Category, onResult func(*types.Category, *types.ScanResult)) (*Progress, error) {
	job.Status = types.JobPending
	job.TotalCategories = len(categories)
	if e.store != nil {
		if err := e.store.CreateScanJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create scan job: %w", err)
		}
	}

	now := time.Now()
	job.Status = types.JobRunning
	job.StartedAt = &now
	e.persistJob(ctx, job)

	progress := &Progress{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var pendingUpdates []CategoryStatsUpdate
	var jobErrs []string
	totalProducts, totalDeals, completed := 0, 0, 0

	batchSize := e.cfg.DBBatchUpdateSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for _, cat := range categories {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			break // cancelled; committed progress is retained
		}
		wg.Add(1)
		go func(cat *types.Category) {
			defer wg.Done()
			defer e.sem.Release(1)

			result := e.ScanCategory(ctx, cat)
			progress.add(result)
			if onResult != nil {
				onResult(cat, result)
			}

			update := CategoryStatsUpdate{
				CategoryID:    cat.ID,
				ScannedAt:     time.Now(),
				ProductsFound: result.ProductsFound,
				DealsFound:    result.DealsFound,
			}
			if result.Err != nil {
				errAt := time.Now()
				update.LastError = result.ErrMessage
				update.LastErrorAt = &errAt
				e.handleCategoryError(ctx, cat, result.Err)
			}

			mu.Lock()
			completed++
			totalProducts += result.ProductsFound
			totalDeals += result.DealsFound
			if result.Err != nil {
				jobErrs = append(jobErrs, fmt.Sprintf("%s: %s", cat.Name, result.ErrMessage))
			}
			pendingUpdates = append(pendingUpdates, update)
			var flush []CategoryStatsUpdate
			if len(pendingUpdates) >= batchSize {
				flush = pendingUpdates
				pendingUpdates = nil
			}
			mu.Unlock()

			if flush != nil {
				e.flushUpdates(ctx, flush)
			}
		}(cat)
	}
	wg.Wait()

	mu.Lock()
	if len(pendingUpdates) > 0 {
		e.flushUpdates(ctx, pendingUpdates)
		pendingUpdates = nil
	}
	job.CompletedCategories = completed
	job.TotalProducts = totalProducts
	job.TotalDeals = totalDeals
	job.Errors = jobErrs
	mu.Unlock()

	done := time.Now()
	job.CompletedAt = &done
	if ctx.Err() != nil && completed < len(categories) {
		job.Status = types.JobFailed
	} else {
		job.Status = types.JobCompleted
	}
	e.persistJob(ctx, job)

	e.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("categories", completed).
		Int("products", totalProducts).
		Int("deals", totalDeals).
		Int("errors", len(jobErrs)).
		Msg("Batch scan finished")
	return progress, nil
}

func (e *Engine) handleCategoryError(ctx context.Context, cat *types.Category, err error) {
	var nf *fetch.NotFoundError
	if e.cfg.DisableOn404 && errors.As(err, &nf) && e.store != nil {
		e.logger.Warn().Str("category", cat.Name).Msg("Category URL gone, disabling")
		if dbErr := e.store.SetCategoryEnabled(ctx, cat.ID, false); dbErr != nil {
			e.logger.Error().Err(dbErr).Str("category", cat.ID).Msg("Failed to disable category")
		}
	}
}

func (e *Engine) flushUpdates(ctx context.Context, updates []CategoryStatsUpdate) {
	if e.store == nil {
		return
	}
	if err := e.store.BatchUpdateCategoryStats(ctx, updates); err != nil {
		e.logger.Error().Err(err).Int("count", len(updates)).Msg("Failed to persist category stats")
	}
}

func (e *Engine) persistJob(ctx context.Context, job *types.ScanJob) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateScanJob(ctx, job); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist scan job")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
