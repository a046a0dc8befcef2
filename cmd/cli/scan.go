package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pricehawk/scan-service/internal/database"
	"github.com/pricehawk/scan-service/internal/deals"
	"github.com/pricehawk/scan-service/internal/delta"
	"github.com/pricehawk/scan-service/internal/export"
	"github.com/pricehawk/scan-service/internal/fetch"
	"github.com/pricehawk/scan-service/internal/health"
	"github.com/pricehawk/scan-service/internal/httpcache"
	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/parsers"
	"github.com/pricehawk/scan-service/internal/proxy"
	"github.com/pricehawk/scan-service/internal/ratelimit"
	"github.com/pricehawk/scan-service/internal/scan"
	"github.com/pricehawk/scan-service/internal/session"
	"github.com/pricehawk/scan-service/internal/types"
)

var (
	scanStore  string
	scanAll    bool
	scanExport string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [categoryId...]",
	Short: "Scan categories and report detected deals",
	Long: `Scan the given categories (or a store's, or all enabled categories)
through the full pipeline and print the detected deals. Category stats and
the scan job are persisted like a service-triggered scan.`,
	Example: `  scan-service scan cat_abc123
  scan-service scan --store walmart
  scan-service scan --all --export deals.xlsx`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanStore, "store", "", "Scan all categories of one store")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Scan every enabled category")
	scanCmd.Flags().StringVar(&scanExport, "export", "", "Write detected deals to an XLSX file")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	categories, err := selectCategories(ctx, args)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		return fmt.Errorf("no matching categories; use --all, --store or category ids")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	engine := buildEngine(rdb)

	logger.Info().Int("categories", len(categories)).Msg("Starting scan")

	job := &types.ScanJob{Kind: types.JobManual}
	progress, err := engine.ScanMany(ctx, job, categories, func(cat *types.Category, result *types.ScanResult) {
		logger.Info().
			Str("category", cat.Name).
			Int("pages", result.PagesScanned).
			Int("products", result.ProductsFound).
			Int("deals", result.DealsFound).
			Msg("Category scanned")
	})
	if err != nil {
		return err
	}

	var allDeals []types.DetectedDeal
	for _, result := range progress.Snapshot() {
		for _, deal := range result.Deals {
			allDeals = append(allDeals, deal)
			fmt.Printf("%-12s %-14s %6.1f%% off  $%.2f  %s\n",
				deal.Product.Store, deal.Product.SKU, deal.DiscountPercent,
				*deal.Product.CurrentPrice, deal.Product.Title)
		}
	}
	fmt.Printf("\n%d categories scanned, %d deals found (job %s, status %s)\n",
		job.CompletedCategories, job.TotalDeals, job.ID, job.Status)

	if scanExport != "" {
		f, err := os.Create(scanExport)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		if err := export.WriteDealsXLSX(f, allDeals); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		logger.Info().Str("file", scanExport).Int("deals", len(allDeals)).Msg("Export written")
	}

	return nil
}

func selectCategories(ctx context.Context, ids []string) ([]*types.Category, error) {
	all, err := database.ListCategories(ctx, true)
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		var picked []*types.Category
		for _, cat := range all {
			if wanted[cat.ID] {
				picked = append(picked, cat)
			}
		}
		return picked, nil
	}

	if scanStore != "" {
		var picked []*types.Category
		for _, cat := range all {
			if cat.Store == scanStore {
				picked = append(picked, cat)
			}
		}
		return picked, nil
	}

	if scanAll {
		return all, nil
	}
	return nil, nil
}

// buildEngine wires the scan engine the same way the server does
func buildEngine(rdb *redis.Client) *scan.Engine {
	rec := metrics.NewRecorder()

	limiter := ratelimit.New(ratelimit.HostConfig{
		Mode:     ratelimit.ModeInterval,
		MinDelay: cfg.RateLimit.MinDelay,
		MaxDelay: cfg.RateLimit.MaxDelay,
		Jitter:   cfg.RateLimit.Jitter,
	})

	tracker := health.NewTracker(health.Config{
		Adaptive:           cfg.RateLimit.AdaptiveEnabled,
		BaseDelay:          cfg.RateLimit.AdaptiveBaseDelay,
		MaxDelay:           cfg.RateLimit.AdaptiveMaxDelay,
		ErrorRateThreshold: cfg.RateLimit.ErrorRateThreshold,
		HighLatency:        cfg.RateLimit.HighLatency,
		CooldownWindow:     cfg.RateLimit.Cooldown429,
	}, rec, *logger)

	proxies := proxy.NewPool(proxy.Config{
		MaxConsecutive403s: cfg.Proxy.MaxConsecutive403s,
		Cooldown403:        time.Duration(cfg.Proxy.CooldownMinutes) * time.Minute,
	}, database.ProxyStore{}, rec, *logger)
	if err := proxies.Refresh(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Failed to load proxies, scanning direct")
	}

	pipeline := fetch.NewPipeline(fetch.Options{
		Limiter:   limiter,
		Health:    tracker,
		Proxies:   proxies,
		Sessions:  session.NewStore(rdb, cfg.Cache.SessionTTL, *logger),
		Cache:     httpcache.New(rdb, cfg.Cache.HTTPCacheTTL, cfg.Cache.HTTPCacheEnabled, rec, *logger),
		MaxConns:  cfg.HTTP.MaxConnections,
		KeepAlive: cfg.HTTP.ConnectionKeepalive,
	}, rec, *logger)

	parsers.InitializeDefaultParsers()

	return scan.NewEngine(scan.Config{
		MaxParallelCategories:  int64(cfg.Scan.MaxParallelCategories),
		MaxPagesPerCategory:    cfg.Scan.MaxPagesPerCategory,
		MaxParallelPages:       int64(cfg.Scan.MaxParallelPages),
		AmazonMaxParallelPages: int64(cfg.Scan.AmazonMaxParallelPages),
		MinPageDelay:           cfg.Scan.MinPageDelay,
		MaxPageDelay:           cfg.Scan.MaxPageDelay,
		ProxyAttemptsPerPage:   cfg.Scan.ProxyAttemptsPerPage,
		GlobalMinDiscount:      cfg.Scan.GlobalMinDiscount,
		DBBatchUpdateSize:      cfg.Scan.DBBatchUpdateSize,
		DisableOn404:           cfg.Scan.DisableOn404,
		Filters: scan.GlobalFilters{
			MinPrice:        cfg.Filters.GlobalMinPrice,
			MinRetailPrice:  cfg.Filters.MinRetailPrice,
			KidsLowPriceMax: cfg.Filters.KidsLowPriceMax,
			KidsKeywords:    cfg.Filters.KidsKeywords,
			KidsExcludeSKUs: cfg.Filters.KidsExcludeSKUs,
		},
	}, pipeline, parsers.DefaultRegistry,
		delta.New(rdb, cfg.Cache.DeltaTTL, cfg.Cache.DeltaEnabled, rec, *logger),
		deals.NewDetector(rec, *logger),
		proxies, database.ScanStore{}, rec, *logger)
}
