package scan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pricehawk/scan-service/internal/types"
)

// GlobalFilters are the engine-wide product rules applied after the
// per-category ones
type GlobalFilters struct {
	MinPrice        float64
	MinRetailPrice  float64
	KidsLowPriceMax float64
	KidsKeywords    []string
	KidsExcludeSKUs map[string][]string // store tag → sku blocklist
}

// ConfigError marks a category whose configuration cannot be compiled.
// The category is skipped without failing the batch.
type ConfigError struct {
	CategoryID string
	Reason     string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("category %s config: %s", e.CategoryID, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// productFilter is the compiled per-category filter chain
type productFilter struct {
	include      *regexp.Regexp
	exclude      *regexp.Regexp
	includeBrand map[string]bool
	excludeBrand map[string]bool
	minPrice     float64
	maxPrice     float64

	excludedSKUs map[string]bool // operator exclusions from storage
	excludeRegex []*regexp.Regexp
	global       GlobalFilters
	kidsPattern  *regexp.Regexp
	kidsSKUs     map[string]bool
}

// compileFilter builds the filter chain for one category plus the operator
// exclusions loaded from storage
func compileFilter(cat *types.Category, exclusions []types.ProductExclusion, global GlobalFilters) (*productFilter, error) {
	f := &productFilter{
		includeBrand: lowerSet(cat.IncludeBrands),
		excludeBrand: lowerSet(cat.ExcludeBrands),
		minPrice:     cat.MinPrice,
		maxPrice:     cat.MaxPrice,
		excludedSKUs: make(map[string]bool),
		global:       global,
		kidsSKUs:     lowerSet(global.KidsExcludeSKUs[cat.Store]),
	}

	var err error
	if f.include, err = compileKeywords(cat.IncludeKeywords); err != nil {
		return nil, &ConfigError{CategoryID: cat.ID, Reason: "bad include keywords", Err: err}
	}
	if f.exclude, err = compileKeywords(cat.ExcludeKeywords); err != nil {
		return nil, &ConfigError{CategoryID: cat.ID, Reason: "bad exclude keywords", Err: err}
	}
	if f.kidsPattern, err = compileKeywords(global.KidsKeywords); err != nil {
		return nil, &ConfigError{CategoryID: cat.ID, Reason: "bad kids keywords", Err: err}
	}

	for _, ex := range exclusions {
		if ex.Store != "*" && !strings.EqualFold(ex.Store, cat.Store) {
			continue
		}
		switch ex.Kind {
		case types.ExcludeSKU:
			f.excludedSKUs[strings.ToLower(ex.Value)] = true
		case types.ExcludeBrand:
			f.excludeBrand[strings.ToLower(ex.Value)] = true
		case types.ExcludeKeyword:
			re, err := regexp.Compile("(?i)" + ex.Value)
			if err != nil {
				return nil, &ConfigError{CategoryID: cat.ID, Reason: "bad exclusion regex " + ex.Value, Err: err}
			}
			f.excludeRegex = append(f.excludeRegex, re)
		}
	}
	return f, nil
}

// compileKeywords joins keyword alternatives into one case-insensitive regex
func compileKeywords(keywords []string) (*regexp.Regexp, error) {
	var parts []string
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, "(?:"+k+")")
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return regexp.Compile("(?i)" + strings.Join(parts, "|"))
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(strings.ToLower(v)); v != "" {
			set[v] = true
		}
	}
	return set
}

// keep decides whether one product survives the filter chain
func (f *productFilter) keep(p *types.DiscoveredProduct) bool {
	title := p.Title

	if f.include != nil && !f.include.MatchString(title) {
		return false
	}
	if f.exclude != nil && f.exclude.MatchString(title) {
		return false
	}
	for _, re := range f.excludeRegex {
		if re.MatchString(title) {
			return false
		}
	}

	brand := strings.ToLower(p.Brand)
	if len(f.includeBrand) > 0 && !f.includeBrand[brand] {
		return false
	}
	if brand != "" && f.excludeBrand[brand] {
		return false
	}

	if f.excludedSKUs[strings.ToLower(p.SKU)] {
		return false
	}

	if p.CurrentPrice != nil {
		price := *p.CurrentPrice
		if f.minPrice > 0 && price < f.minPrice {
			return false
		}
		if f.maxPrice > 0 && price > f.maxPrice {
			return false
		}
		if f.global.MinPrice > 0 && price < f.global.MinPrice {
			return false
		}

		// Low-cost kids items are chronic false positives: cheap licensed
		// merchandise cycles through clearance constantly.
		if f.global.KidsLowPriceMax > 0 && price <= f.global.KidsLowPriceMax {
			if f.kidsPattern != nil && f.kidsPattern.MatchString(title) {
				return false
			}
			if f.kidsSKUs[strings.ToLower(p.SKU)] {
				return false
			}
		}
	}

	if f.global.MinRetailPrice > 0 && retailPrice(p) < f.global.MinRetailPrice {
		return false
	}
	return true
}

// retailPrice is the best available pre-discount price: original, then msrp,
// then current
func retailPrice(p *types.DiscoveredProduct) float64 {
	if p.OriginalPrice != nil && *p.OriginalPrice > 0 {
		return *p.OriginalPrice
	}
	if p.MSRP != nil && *p.MSRP > 0 {
		return *p.MSRP
	}
	if p.CurrentPrice != nil {
		return *p.CurrentPrice
	}
	return 0
}

// apply runs the chain over a page of products
func (f *productFilter) apply(products []types.DiscoveredProduct) []types.DiscoveredProduct {
	kept := products[:0]
	for i := range products {
		if f.keep(&products[i]) {
			kept = append(kept, products[i])
		}
	}
	return kept
}
