package parsers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pricehawk/scan-service/internal/types"
)

// WalmartParser extracts products from Walmart browse pages. Walmart ships
// listings as a __NEXT_DATA__ hydration payload, so JSON is the primary path
// and DOM scraping is only a fallback for stripped-down pages.
type WalmartParser struct{}

func NewWalmartParser() *WalmartParser { return &WalmartParser{} }

func (p *WalmartParser) Store() string { return "walmart" }

var walmartNextData = regexp.MustCompile(`(?s)<script[^>]*id="__NEXT_DATA__"[^>]*>(.*?)</script>`)

type walmartItem struct {
	ID           string  `json:"usItemId"`
	Name         string  `json:"name"`
	CanonicalURL string  `json:"canonicalUrl"`
	ImageURL     string  `json:"imageUrl"`
	Brand        string  `json:"brand"`
	Price        float64 `json:"price"`
	WasPrice     float64 `json:"wasPrice"`
	MSRP         float64 `json:"listPrice"`
}

type walmartPayload struct {
	Props struct {
		PageProps struct {
			InitialData struct {
				SearchResult struct {
					ItemStacks []struct {
						Items []walmartItem `json:"items"`
					} `json:"itemStacks"`
					Pagination struct {
						NextPage string `json:"nextPageUrl"`
					} `json:"paginationV2"`
				} `json:"searchResult"`
			} `json:"initialData"`
		} `json:"pageProps"`
	} `json:"props"`
}

func (p *WalmartParser) Extract(body []byte, pageURL string) ([]types.DiscoveredProduct, error) {
	payload, err := p.payload(body)
	if err == nil {
		var products []types.DiscoveredProduct
		for _, stack := range payload.Props.PageProps.InitialData.SearchResult.ItemStacks {
			for _, item := range stack.Items {
				if item.ID == "" {
					continue
				}
				prod := types.DiscoveredProduct{
					SKU:      item.ID,
					Title:    item.Name,
					Store:    p.Store(),
					Brand:    item.Brand,
					ImageURL: item.ImageURL,
					URL:      fmt.Sprintf("https://www.walmart.com/ip/%s", item.ID),
				}
				if item.CanonicalURL != "" {
					prod.URL = resolveURL(pageURL, item.CanonicalURL)
				}
				if item.Price > 0 {
					v := item.Price
					prod.CurrentPrice = &v
				}
				if item.WasPrice > item.Price {
					v := item.WasPrice
					prod.OriginalPrice = &v
				}
				if item.MSRP > item.Price {
					v := item.MSRP
					prod.MSRP = &v
				}
				products = append(products, prod)
			}
		}
		if len(products) > 0 {
			return products, nil
		}
	}

	return ExtractJSONLD(body, pageURL, p.Store()), nil
}

func (p *WalmartParser) NextPageURL(body []byte, pageURL string) string {
	payload, err := p.payload(body)
	if err != nil {
		return ""
	}
	next := payload.Props.PageProps.InitialData.SearchResult.Pagination.NextPage
	if next == "" {
		return ""
	}
	return resolveURL(pageURL, next)
}

func (p *WalmartParser) payload(body []byte) (*walmartPayload, error) {
	m := walmartNextData.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("no __NEXT_DATA__ payload")
	}
	var payload walmartPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(m[1]))), &payload); err != nil {
		return nil, fmt.Errorf("decode __NEXT_DATA__: %w", err)
	}
	return &payload, nil
}
