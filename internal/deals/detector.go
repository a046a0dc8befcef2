// Package deals promotes discovered products to deal candidates using
// per-category detection thresholds.
package deals

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/types"
)

// DetectionConfig parameterises deal detection for one category
type DetectionConfig struct {
	MinDiscountPercent float64 `json:"min_discount_percent"`
	MSRPThreshold      float64 `json:"msrp_threshold"` // ratio current/msrp at or below which msrp fires
	MinPrice           float64 `json:"min_price"`
	MaxPrice           float64 `json:"max_price"`
	Category           string  `json:"category,omitempty"`
	Store              string  `json:"store,omitempty"`
}

// DefaultConfig is used when no category entry matches
var DefaultConfig = DetectionConfig{
	MinDiscountPercent: 40,
	MSRPThreshold:      0.60,
	MinPrice:           5,
	MaxPrice:           10000,
}

// categoryConfigs hold per-vertical thresholds keyed by lowercase name
var categoryConfigs = map[string]DetectionConfig{
	"electronics": {MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 10, MaxPrice: 15000, Category: "electronics"},
	"computers":   {MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 20, MaxPrice: 20000, Category: "computers"},
	"appliances":  {MinDiscountPercent: 40, MSRPThreshold: 0.60, MinPrice: 25, MaxPrice: 12000, Category: "appliances"},
	"toys":        {MinDiscountPercent: 45, MSRPThreshold: 0.55, MinPrice: 5, MaxPrice: 1000, Category: "toys"},
	"clothing":    {MinDiscountPercent: 55, MSRPThreshold: 0.45, MinPrice: 5, MaxPrice: 2500, Category: "clothing"},
	"home":        {MinDiscountPercent: 45, MSRPThreshold: 0.55, MinPrice: 10, MaxPrice: 8000, Category: "home"},
	"grocery":     {MinDiscountPercent: 50, MSRPThreshold: 0.50, MinPrice: 2, MaxPrice: 500, Category: "grocery"},
}

// storeMultipliers scale min_discount_percent for stores whose baseline
// pricing is promotional. Chronically-on-sale stores need a higher bar.
var storeMultipliers = map[string]float64{
	"kohls":    1.3,
	"jcpenney": 1.3,
	"macys":    1.2,
	"wayfair":  1.15,
}

// ConfigForCategory resolves the detection config by lowercase category name
// with substring fallback, then applies the store multiplier.
func ConfigForCategory(category, store string) DetectionConfig {
	name := strings.ToLower(strings.TrimSpace(category))

	cfg, ok := categoryConfigs[name]
	if !ok {
		for key, candidate := range categoryConfigs {
			if name != "" && (strings.Contains(name, key) || strings.Contains(key, name)) {
				cfg, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		cfg = DefaultConfig
		cfg.Category = name
	}

	if mult, ok := storeMultipliers[strings.ToLower(store)]; ok {
		cfg.MinDiscountPercent *= mult
		cfg.Store = strings.ToLower(store)
	}
	return cfg
}

// Detector evaluates products against detection configs
type Detector struct {
	mu        sync.RWMutex
	overrides map[string]DetectionConfig
	metrics   *metrics.Recorder
	logger    zerolog.Logger
}

// NewDetector creates a deal detector
func NewDetector(rec *metrics.Recorder, logger zerolog.Logger) *Detector {
	return &Detector{
		overrides: make(map[string]DetectionConfig),
		metrics:   rec,
		logger:    logger.With().Str("component", "deal_detector").Logger(),
	}
}

// SetOverride pins a detection config for a category, ahead of the built-in
// table
func (d *Detector) SetOverride(category string, cfg DetectionConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overrides[strings.ToLower(category)] = cfg
}

func (d *Detector) config(category, store string) DetectionConfig {
	d.mu.RLock()
	cfg, ok := d.overrides[strings.ToLower(category)]
	d.mu.RUnlock()
	if ok {
		if mult, found := storeMultipliers[strings.ToLower(store)]; found {
			cfg.MinDiscountPercent *= mult
		}
		return cfg
	}
	return ConfigForCategory(category, store)
}

type candidate struct {
	method   types.DetectionMethod
	discount float64
}

// Detect evaluates one product under an explicit config. Returns nil when the
// product is not a deal.
func (d *Detector) Detect(p types.DiscoveredProduct, cfg DetectionConfig) *types.DetectedDeal {
	if p.CurrentPrice == nil {
		return nil
	}
	current := *p.CurrentPrice
	if current < cfg.MinPrice || (cfg.MaxPrice > 0 && current > cfg.MaxPrice) {
		return nil
	}

	var strike, msrp *candidate
	var signals []string

	if p.OriginalPrice != nil && *p.OriginalPrice > current {
		discount := (1 - current / *p.OriginalPrice) * 100
		if discount >= cfg.MinDiscountPercent {
			strike = &candidate{method: types.MethodStrikethrough, discount: discount}
			signals = append(signals, "strikethrough")
		}
	}

	if p.MSRP != nil && *p.MSRP > 0 && current < *p.MSRP && cfg.MSRPThreshold > 0 {
		if current / *p.MSRP <= cfg.MSRPThreshold {
			discount := (1 - current / *p.MSRP) * 100
			msrp = &candidate{method: types.MethodMSRP, discount: discount}
			signals = append(signals, "msrp")
		}
	}

	// Strikethrough is the stronger signal: when both fire it is the base
	// candidate and the deal is promoted to combined.
	best := strike
	if best == nil {
		best = msrp
	}
	if best == nil {
		return nil
	}

	confidence := confidenceFor(best.discount, best.method)

	method := best.method
	if strike != nil && msrp != nil {
		method = types.MethodCombined
		confidence = math.Min(1.0, confidence+0.15)
	}

	deal := &types.DetectedDeal{
		Product:         p,
		DiscountPercent: round2(best.discount),
		Method:          method,
		Confidence:      round2(confidence),
		Signals:         signals,
		CategoryContext: cfg.Category,
	}

	if d.metrics != nil {
		tier := "candidate"
		if deal.IsLikelyError() {
			tier = "likely_error"
		} else if deal.IsSignificant() {
			tier = "significant"
		}
		d.metrics.RecordDealDetected(p.Store, tier)
	}
	return deal
}

// confidenceFor implements the confidence ladder: a 0.5 base, a discount-band
// bonus, and a method bonus, clamped to [0.1, 1.0].
func confidenceFor(discount float64, method types.DetectionMethod) float64 {
	c := 0.5
	switch {
	case discount > 95:
		c -= 0.10 // discounts this deep are usually bad data
	case discount > 85:
		c += 0.10
	case discount > 70:
		c += 0.15
	case discount >= 50:
		c += 0.20
	}
	switch method {
	case types.MethodStrikethrough:
		c += 0.15
	case types.MethodMSRP:
		c += 0.10
	}
	return math.Min(1.0, math.Max(0.1, c))
}

// DetectBatch evaluates a product batch under one config, sorted by discount
// descending
func (d *Detector) DetectBatch(products []types.DiscoveredProduct, cfg DetectionConfig) []types.DetectedDeal {
	var deals []types.DetectedDeal
	for _, p := range products {
		if deal := d.Detect(p, cfg); deal != nil {
			deals = append(deals, *deal)
		}
	}
	sort.SliceStable(deals, func(i, j int) bool {
		return deals[i].DiscountPercent > deals[j].DiscountPercent
	})
	return deals
}

// DetectForCategory resolves the category config, optionally raising the
// discount floor, then runs the batch.
func (d *Detector) DetectForCategory(products []types.DiscoveredProduct, category, store string, minDiscountFloor float64) []types.DetectedDeal {
	cfg := d.config(category, store)
	if minDiscountFloor > cfg.MinDiscountPercent {
		cfg.MinDiscountPercent = minDiscountFloor
	}
	return d.DetectBatch(products, cfg)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
