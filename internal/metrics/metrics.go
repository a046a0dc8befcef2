// Package metrics is the observability surface shared by the scan
// orchestration components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scanAttempts tracks category scan attempts per store.
	scanAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_attempts_total",
		Help: "Total number of category scan attempts by store",
	}, []string{"store"})

	// scanDuration tracks per-category scan durations.
	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scan_duration_seconds",
		Help:    "Category scan duration by store",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"store"})

	// productsDiscovered counts products yielded by parsers.
	productsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_products_discovered_total",
		Help: "Total products discovered by store",
	}, []string{"store"})

	// dealsDetected counts detected deals by tier.
	dealsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_deals_detected_total",
		Help: "Total deals detected by store and tier",
	}, []string{"store", "tier"}) // tier: deal, significant, price_error

	// httpErrors counts HTTP error responses by status code.
	httpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_http_errors_total",
		Help: "Total HTTP error responses by store and status code",
	}, []string{"store", "code"})

	// scanBlocks counts blocked fetches by block type.
	scanBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_blocks_total",
		Help: "Total blocked fetches by store and block type",
	}, []string{"store", "block_type"})

	// cacheHits / cacheMisses track conditional-request cache effectiveness.
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scan_http_cache_hits_total",
		Help: "Total HTTP cache hits (304 with stored body)",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scan_http_cache_misses_total",
		Help: "Total HTTP cache misses",
	})

	// deltaSkipped / deltaChanged track the delta detector.
	deltaSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_delta_skipped_total",
		Help: "Products skipped as unchanged since last scan",
	}, []string{"store"})
	deltaChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_delta_changed_total",
		Help: "Products passed through as changed",
	}, []string{"store"})

	// proxy403s counts 403 strikes reported against proxies.
	proxy403s = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_proxy_403_total",
		Help: "Total 403 strikes by proxy",
	}, []string{"proxy"})

	// proxyStrikes gauges the current consecutive-403 count per proxy.
	proxyStrikes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scan_proxy_consecutive_403s",
		Help: "Current consecutive 403 count by proxy",
	}, []string{"proxy"})

	// storeErrorRate gauges the rolling error rate per store.
	storeErrorRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scan_store_error_rate",
		Help: "Rolling error rate by store",
	}, []string{"store"})

	// recommendedDelay gauges the adaptive delay per store.
	recommendedDelay = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scan_store_recommended_delay_seconds",
		Help: "Recommended inter-request delay by store",
	}, []string{"store"})

	// activeScans gauges currently running category scans.
	activeScans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scan_active_category_scans",
		Help: "Number of category scans currently running",
	})

	// fetchAttempts tracks fetch pipeline attempts by strategy and result.
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_fetch_attempts_total",
		Help: "Fetch attempts by store, strategy and outcome",
	}, []string{"store", "strategy", "outcome"})

	// alertsSuppressed counts alert-pipeline suppressions by reason.
	alertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_alerts_suppressed_total",
		Help: "Alerts suppressed by reason",
	}, []string{"reason"}) // reason: dedupe, cooldown, cross_source

	// alertsEmitted counts alerts handed to the sink.
	alertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_alerts_emitted_total",
		Help: "Alerts emitted to the sink by store",
	}, []string{"store"})
)

// Recorder provides methods to record scan metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordScanAttempt records one category scan attempt.
func (r *Recorder) RecordScanAttempt(store string) {
	scanAttempts.WithLabelValues(store).Inc()
}

// RecordScanDuration records the duration of a category scan.
func (r *Recorder) RecordScanDuration(store string, d time.Duration) {
	scanDuration.WithLabelValues(store).Observe(d.Seconds())
}

// RecordProductsDiscovered adds to the discovered-product counter.
func (r *Recorder) RecordProductsDiscovered(store string, n int) {
	productsDiscovered.WithLabelValues(store).Add(float64(n))
}

// RecordDealDetected records a detected deal at the given tier.
func (r *Recorder) RecordDealDetected(store, tier string) {
	dealsDetected.WithLabelValues(store, tier).Inc()
}

// RecordHTTPError records an HTTP error response.
func (r *Recorder) RecordHTTPError(store, code string) {
	httpErrors.WithLabelValues(store, code).Inc()
}

// RecordBlock records a blocked fetch.
func (r *Recorder) RecordBlock(store, blockType string) {
	scanBlocks.WithLabelValues(store, blockType).Inc()
}

// RecordCacheHit records an HTTP cache hit.
func (r *Recorder) RecordCacheHit() { cacheHits.Inc() }

// RecordCacheMiss records an HTTP cache miss.
func (r *Recorder) RecordCacheMiss() { cacheMisses.Inc() }

// RecordDeltaSkipped adds unchanged products to the skip counter.
func (r *Recorder) RecordDeltaSkipped(store string, n int) {
	deltaSkipped.WithLabelValues(store).Add(float64(n))
}

// RecordDeltaChanged adds changed products to the change counter.
func (r *Recorder) RecordDeltaChanged(store string, n int) {
	deltaChanged.WithLabelValues(store).Add(float64(n))
}

// RecordProxy403 records a 403 strike and the resulting strike count.
func (r *Recorder) RecordProxy403(proxyID string, consecutive int) {
	proxy403s.WithLabelValues(proxyID).Inc()
	proxyStrikes.WithLabelValues(proxyID).Set(float64(consecutive))
}

// RecordProxyStrikesCleared resets the strike gauge after a success.
func (r *Recorder) RecordProxyStrikesCleared(proxyID string) {
	proxyStrikes.WithLabelValues(proxyID).Set(0)
}

// RecordStoreErrorRate sets the rolling error-rate gauge.
func (r *Recorder) RecordStoreErrorRate(store string, rate float64) {
	storeErrorRate.WithLabelValues(store).Set(rate)
}

// RecordRecommendedDelay sets the adaptive-delay gauge.
func (r *Recorder) RecordRecommendedDelay(store string, seconds float64) {
	recommendedDelay.WithLabelValues(store).Set(seconds)
}

// IncActiveScans bumps the running-scan gauge.
func (r *Recorder) IncActiveScans() { activeScans.Inc() }

// DecActiveScans lowers the running-scan gauge.
func (r *Recorder) DecActiveScans() { activeScans.Dec() }

// RecordFetchAttempt records one fetch attempt outcome.
func (r *Recorder) RecordFetchAttempt(store, strategy, outcome string) {
	fetchAttempts.WithLabelValues(store, strategy, outcome).Inc()
}

// RecordAlertSuppressed records a suppressed alert.
func (r *Recorder) RecordAlertSuppressed(reason string) {
	alertsSuppressed.WithLabelValues(reason).Inc()
}

// RecordAlertEmitted records an emitted alert.
func (r *Recorder) RecordAlertEmitted(store string) {
	alertsEmitted.WithLabelValues(store).Inc()
}
