package parsers

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pricehawk/scan-service/internal/types"
)

// AmazonParser extracts products from Amazon search/browse result pages.
// Markup shifts between layouts, so extraction works card by card: each
// data-asin block is isolated first, then fields are pulled from within it.
type AmazonParser struct{}

func NewAmazonParser() *AmazonParser { return &AmazonParser{} }

func (p *AmazonParser) Store() string { return "amazon_us" }

var (
	amazonCard = regexp.MustCompile(`(?s)<div[^>]*data-asin="([A-Z0-9]{10})"[^>]*>(.*?)(?:<div[^>]*data-asin="|\z)`)

	amazonTitle = regexp.MustCompile(`(?s)<h2[^>]*>.*?<span[^>]*>(.*?)</span>`)
	amazonLink  = regexp.MustCompile(`<a[^>]*href="(/[^"]*?/dp/[A-Z0-9]{10}[^"]*)"`)
	amazonImage = regexp.MustCompile(`<img[^>]*src="(https://[^"]+)"`)

	// a-offscreen carries the full rendered price; the first is the current
	// price and a later one inside a-text-price is the strikethrough.
	amazonPrice  = regexp.MustCompile(`<span class="a-offscreen">\$?([\d,]+\.?\d*)</span>`)
	amazonStrike = regexp.MustCompile(`(?s)<span[^>]*class="[^"]*a-text-price[^"]*"[^>]*>.*?<span class="a-offscreen">\$?([\d,]+\.?\d*)</span>`)

	amazonNextPage = regexp.MustCompile(`<a[^>]*href="([^"]+)"[^>]*class="[^"]*s-pagination-next[^"]*"|class="[^"]*s-pagination-next[^"]*"[^>]*href="([^"]+)"`)
)

func (p *AmazonParser) Extract(body []byte, pageURL string) ([]types.DiscoveredProduct, error) {
	html := string(body)
	var products []types.DiscoveredProduct

	for _, card := range amazonCard.FindAllStringSubmatch(html, -1) {
		asin, block := card[1], card[2]

		prod := types.DiscoveredProduct{
			SKU:   asin,
			Store: p.Store(),
			URL:   fmt.Sprintf("https://www.amazon.com/dp/%s", asin),
		}
		if m := amazonTitle.FindStringSubmatch(block); m != nil {
			prod.Title = cleanText(m[1])
		}
		if m := amazonLink.FindStringSubmatch(block); m != nil {
			prod.URL = stripQueryTracking(resolveURL(pageURL, m[1]))
		}
		if m := amazonImage.FindStringSubmatch(block); m != nil {
			prod.ImageURL = m[1]
		}
		if m := amazonPrice.FindStringSubmatch(block); m != nil {
			if v, ok := parsePrice(m[1]); ok {
				prod.CurrentPrice = &v
			}
		}
		if m := amazonStrike.FindStringSubmatch(block); m != nil {
			if v, ok := parsePrice(m[1]); ok && (prod.CurrentPrice == nil || v > *prod.CurrentPrice) {
				prod.OriginalPrice = &v
			}
		}

		if prod.Title == "" && prod.CurrentPrice == nil {
			continue // sponsored shell or empty card
		}
		products = append(products, prod)
	}

	if len(products) == 0 {
		products = ExtractJSONLD(body, pageURL, p.Store())
	}
	return products, nil
}

func (p *AmazonParser) NextPageURL(body []byte, pageURL string) string {
	m := amazonNextPage.FindStringSubmatch(string(body))
	if m == nil {
		return ""
	}
	href := m[1]
	if href == "" {
		href = m[2]
	}
	return resolveURL(pageURL, unescapeHTML(href))
}

func parsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(unescapeHTML(s)), " ")
}

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func unescapeHTML(s string) string { return htmlEntities.Replace(s) }

// stripQueryTracking removes click-tracking parameters from product links
func stripQueryTracking(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
