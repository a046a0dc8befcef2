// Package alerts gates detected deals through dedupe and cooldown windows
// before emitting them to a sink.
package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/dedupe"
	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/types"
)

// Sink receives the alerts that survive suppression
type Sink interface {
	Emit(ctx context.Context, alert *types.Alert) error
}

// LogSink writes alerts to the structured log. The default sink in
// deployments without a notifier.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log-backed alert sink
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "alert_sink").Logger()}
}

// Emit logs the alert
func (s *LogSink) Emit(ctx context.Context, alert *types.Alert) error {
	s.logger.Info().
		Str("store", alert.Store).
		Str("sku", alert.Product.SKU).
		Str("title", alert.Product.Title).
		Float64("price", alert.CurrentPrice).
		Float64("confidence", alert.Confidence).
		Str("reason", alert.Reason).
		Msg("Deal alert")
	return nil
}

// Config tunes the suppression windows
type Config struct {
	DedupeTTL   time.Duration // same (store, sku, rounded price) window
	CooldownTTL time.Duration // same (store, sku) window, any price
}

// DefaultConfig returns the alert pipeline defaults
func DefaultConfig() Config {
	return Config{
		DedupeTTL:   12 * time.Hour,
		CooldownTTL: time.Hour,
	}
}

// Pipeline decides emit/suppress per deal
type Pipeline struct {
	rdb     *redis.Client
	cfg     Config
	dedupe  *dedupe.Deduper
	sink    Sink
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// New creates an alert pipeline. crossSource may be nil to skip cross-source gating.
func New(rdb *redis.Client, cfg Config, crossSource *dedupe.Deduper, sink Sink, rec *metrics.Recorder, logger zerolog.Logger) *Pipeline {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 12 * time.Hour
	}
	if cfg.CooldownTTL <= 0 {
		cfg.CooldownTTL = time.Hour
	}
	return &Pipeline{
		rdb:     rdb,
		cfg:     cfg,
		dedupe:  crossSource,
		sink:    sink,
		metrics: rec,
		logger:  logger.With().Str("component", "alert_pipeline").Logger(),
	}
}

func dedupeKey(store, sku string, price float64) string {
	sum := sha256.Sum256([]byte(store + "|" + sku + "|" + strconv.Itoa(int(math.Round(price)))))
	return "alert:dedupe:" + hex.EncodeToString(sum[:16])
}

func cooldownKey(store, sku string) string {
	sum := sha256.Sum256([]byte(store + "|" + sku))
	return "alert:cooldown:" + hex.EncodeToString(sum[:16])
}

// Process gates one deal. Returns true when an alert was emitted.
//
// The dedupe key is claimed with SET NX before emitting, so two concurrent
// deals for the same (store, sku, rounded price) cannot both pass.
func (p *Pipeline) Process(ctx context.Context, deal *types.DetectedDeal) (bool, error) {
	product := deal.Product
	if product.CurrentPrice == nil {
		return false, nil
	}
	store := product.Store
	price := *product.CurrentPrice

	// Cooldown first: it is the only gate a better price may bypass, and
	// checking it before claiming the dedupe key keeps the claim accurate.
	cdKey := cooldownKey(store, product.SKU)
	lastPrice, err := p.rdb.Get(ctx, cdKey).Float64()
	switch {
	case err == redis.Nil:
		// no cooldown
	case err != nil:
		return false, fmt.Errorf("cooldown lookup: %w", err)
	case price < lastPrice:
		p.logger.Debug().Str("sku", product.SKU).Float64("price", price).Float64("last", lastPrice).Msg("Cooldown bypassed by lower price")
	default:
		p.suppress("cooldown")
		return false, nil
	}

	claimed, err := p.rdb.SetNX(ctx, dedupeKey(store, product.SKU, price), "1", p.cfg.DedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe claim: %w", err)
	}
	if !claimed {
		p.suppress("dedupe")
		return false, nil
	}

	if p.dedupe != nil {
		decision, err := p.dedupe.Check(ctx, store, product.SKU, product.URL, price)
		if err != nil {
			p.logger.Warn().Err(err).Str("sku", product.SKU).Msg("Cross-source check failed, continuing")
		}
		if decision == dedupe.Suppress {
			p.suppress("cross_source")
			return false, nil
		}
	}

	alert := &types.Alert{
		Product:      product,
		Store:        store,
		CurrentPrice: price,
		Baseline:     product.OriginalPrice,
		MSRP:         product.MSRP,
		Reason:       reasonFor(deal),
		Confidence:   deal.Confidence,
		ImageURL:     product.ImageURL,
		DetectedAt:   time.Now(),
	}
	if lastPrice > 0 {
		alert.PreviousPrice = &lastPrice
	}

	if err := p.sink.Emit(ctx, alert); err != nil {
		return false, fmt.Errorf("emit alert for %s: %w", product.SKU, err)
	}

	if err := p.rdb.Set(ctx, cdKey, price, p.cfg.CooldownTTL).Err(); err != nil {
		p.logger.Warn().Err(err).Str("sku", product.SKU).Msg("Failed to set alert cooldown")
	}

	if p.metrics != nil {
		p.metrics.RecordAlertEmitted(store)
	}
	return true, nil
}

// ProcessBatch runs the pipeline over a result's deals, returning the emit
// count
func (p *Pipeline) ProcessBatch(ctx context.Context, deals []types.DetectedDeal) (int, error) {
	emitted := 0
	for i := range deals {
		ok, err := p.Process(ctx, &deals[i])
		if err != nil {
			return emitted, err
		}
		if ok {
			emitted++
		}
	}
	return emitted, nil
}

func (p *Pipeline) suppress(reason string) {
	if p.metrics != nil {
		p.metrics.RecordAlertSuppressed(reason)
	}
}

func reasonFor(deal *types.DetectedDeal) string {
	switch {
	case deal.IsLikelyError():
		return fmt.Sprintf("likely pricing error: %.0f%% off via %s", deal.DiscountPercent, deal.Method)
	case deal.IsSignificant():
		return fmt.Sprintf("significant deal: %.0f%% off via %s", deal.DiscountPercent, deal.Method)
	default:
		return fmt.Sprintf("deal: %.0f%% off via %s", deal.DiscountPercent, deal.Method)
	}
}
