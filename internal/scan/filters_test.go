package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricehawk/scan-service/internal/types"
)

func ptr(v float64) *float64 { return &v }

func baseCategory() *types.Category {
	return &types.Category{ID: "c1", Store: "teststore", Name: "electronics", URL: "https://x/c"}
}

func mustFilter(t *testing.T, cat *types.Category, exclusions []types.ProductExclusion, global GlobalFilters) *productFilter {
	t.Helper()
	f, err := compileFilter(cat, exclusions, global)
	require.NoError(t, err)
	return f
}

func TestFilterKeywords(t *testing.T) {
	cat := baseCategory()
	cat.IncludeKeywords = []string{"laptop", "tablet"}
	cat.ExcludeKeywords = []string{"refurbished"}
	f := mustFilter(t, cat, nil, GlobalFilters{})

	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "1", Title: "Gaming Laptop 15in"}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "2", Title: "Desk Chair"}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "3", Title: "Refurbished Laptop"}))
	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "4", Title: "ANDROID TABLET"}), "matching is case-insensitive")
}

func TestFilterBrands(t *testing.T) {
	cat := baseCategory()
	cat.IncludeBrands = []string{"Acme"}
	cat.ExcludeBrands = []string{"Knockoff"}
	f := mustFilter(t, cat, nil, GlobalFilters{})

	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "1", Title: "x", Brand: "ACME"}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "2", Title: "x", Brand: "Other"}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "3", Title: "x", Brand: "knockoff"}))
}

func TestFilterPriceBounds(t *testing.T) {
	cat := baseCategory()
	cat.MinPrice = 10
	cat.MaxPrice = 100
	f := mustFilter(t, cat, nil, GlobalFilters{MinPrice: 15})

	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "1", Title: "x", CurrentPrice: ptr(5)}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "2", Title: "x", CurrentPrice: ptr(12)}), "global min wins")
	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "3", Title: "x", CurrentPrice: ptr(50)}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "4", Title: "x", CurrentPrice: ptr(150)}))
	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "5", Title: "x"}), "unpriced rows pass the band")
}

func TestFilterStorageExclusions(t *testing.T) {
	exclusions := []types.ProductExclusion{
		{Kind: types.ExcludeSKU, Value: "BAD-1", Store: "*"},
		{Kind: types.ExcludeSKU, Value: "OTHER", Store: "otherstore"},
		{Kind: types.ExcludeBrand, Value: "Banned", Store: "teststore"},
		{Kind: types.ExcludeKeyword, Value: `open\s*box`, Store: "*"},
	}
	f := mustFilter(t, baseCategory(), exclusions, GlobalFilters{})

	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "bad-1", Title: "x"}))
	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "OTHER", Title: "x"}), "exclusion scoped to another store")
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "1", Title: "x", Brand: "banned"}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "2", Title: "Open Box Monitor"}))
}

func TestFilterMalformedExclusionRegex(t *testing.T) {
	exclusions := []types.ProductExclusion{{Kind: types.ExcludeKeyword, Value: "([", Store: "*"}}
	_, err := compileFilter(baseCategory(), exclusions, GlobalFilters{})

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "c1", cfgErr.CategoryID)
}

func TestFilterKidsRule(t *testing.T) {
	global := GlobalFilters{
		KidsLowPriceMax: 15,
		KidsKeywords:    []string{"kids", "toddler"},
		KidsExcludeSKUs: map[string][]string{"teststore": {"KID-SKU"}},
	}
	f := mustFilter(t, baseCategory(), nil, global)

	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "1", Title: "Kids T-Shirt", CurrentPrice: ptr(8)}))
	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "2", Title: "Kids Bike", CurrentPrice: ptr(89)}), "above the low-cost band")
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "kid-sku", Title: "Mystery Item", CurrentPrice: ptr(10)}))
	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "3", Title: "USB Hub", CurrentPrice: ptr(9)}))
}

func TestFilterMinRetailPrice(t *testing.T) {
	f := mustFilter(t, baseCategory(), nil, GlobalFilters{MinRetailPrice: 50})

	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "1", Title: "x", CurrentPrice: ptr(10), OriginalPrice: ptr(80)}), "original price consulted first")
	assert.True(t, f.keep(&types.DiscoveredProduct{SKU: "2", Title: "x", CurrentPrice: ptr(10), MSRP: ptr(60)}))
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "3", Title: "x", CurrentPrice: ptr(10)}), "current price alone below floor")
	assert.False(t, f.keep(&types.DiscoveredProduct{SKU: "4", Title: "x", CurrentPrice: ptr(10), OriginalPrice: ptr(30), MSRP: ptr(90)}), "original takes precedence over msrp")
}

func TestFilterApply(t *testing.T) {
	cat := baseCategory()
	cat.ExcludeKeywords = []string{"case"}
	f := mustFilter(t, cat, nil, GlobalFilters{})

	products := []types.DiscoveredProduct{
		{SKU: "1", Title: "Laptop"},
		{SKU: "2", Title: "Laptop Case"},
		{SKU: "3", Title: "Tablet"},
	}
	kept := f.apply(products)
	require.Len(t, kept, 2)
	assert.Equal(t, "1", kept[0].SKU)
	assert.Equal(t, "3", kept[1].SKU)
}
