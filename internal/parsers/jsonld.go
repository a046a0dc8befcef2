package parsers

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pricehawk/scan-service/internal/types"
)

var jsonLDScript = regexp.MustCompile(`(?s)<script[^>]*type="application/ld\+json"[^>]*>(.*?)</script>`)

// jsonLDNode is the subset of schema.org shapes retailers actually emit
type jsonLDNode struct {
	Type            json.RawMessage   `json:"@type"`
	Name            string            `json:"name"`
	SKU             string            `json:"sku"`
	URL             string            `json:"url"`
	Image           json.RawMessage   `json:"image"`
	Brand           json.RawMessage   `json:"brand"`
	Offers          json.RawMessage   `json:"offers"`
	ItemListElement []json.RawMessage `json:"itemListElement"`
}

type jsonLDOffer struct {
	Price     json.RawMessage `json:"price"`
	LowPrice  json.RawMessage `json:"lowPrice"`
	HighPrice json.RawMessage `json:"highPrice"`
}

type jsonLDListItem struct {
	Item json.RawMessage `json:"item"`
	URL  string          `json:"url"`
}

// ExtractJSONLD walks every ld+json block in the page and converts Product and
// ItemList nodes to product rows. Parsers call this as a fallback when the
// store's DOM markup yields nothing; it is never invoked by the engine itself.
func ExtractJSONLD(body []byte, pageURL, store string) []types.DiscoveredProduct {
	var products []types.DiscoveredProduct
	for _, m := range jsonLDScript.FindAllSubmatch(body, -1) {
		payload := strings.TrimSpace(string(m[1]))
		if payload == "" {
			continue
		}
		// Top level may be a node, a node list, or a @graph wrapper
		for _, raw := range splitLDNodes([]byte(payload)) {
			products = append(products, convertLDNode(raw, pageURL, store)...)
		}
	}
	return products
}

func splitLDNodes(payload []byte) []json.RawMessage {
	payload = []byte(strings.TrimSpace(string(payload)))
	if len(payload) == 0 {
		return nil
	}
	if payload[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil
		}
		return list
	}
	var wrapper struct {
		Graph []json.RawMessage `json:"@graph"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && len(wrapper.Graph) > 0 {
		return wrapper.Graph
	}
	return []json.RawMessage{payload}
}

func convertLDNode(raw json.RawMessage, pageURL, store string) []types.DiscoveredProduct {
	var node jsonLDNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil
	}

	switch ldType(node.Type) {
	case "product":
		if p, ok := productFromNode(node, pageURL, store); ok {
			return []types.DiscoveredProduct{p}
		}
	case "itemlist":
		var products []types.DiscoveredProduct
		for _, el := range node.ItemListElement {
			var item jsonLDListItem
			if err := json.Unmarshal(el, &item); err != nil {
				continue
			}
			if len(item.Item) > 0 {
				products = append(products, convertLDNode(item.Item, pageURL, store)...)
			}
		}
		return products
	}
	return nil
}

func ldType(raw json.RawMessage) string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.ToLower(single)
	}
	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		for _, t := range multi {
			if lt := strings.ToLower(t); lt == "product" || lt == "itemlist" {
				return lt
			}
		}
	}
	return ""
}

func productFromNode(node jsonLDNode, pageURL, store string) (types.DiscoveredProduct, bool) {
	p := types.DiscoveredProduct{
		SKU:      node.SKU,
		Title:    node.Name,
		URL:      resolveURL(pageURL, node.URL),
		Store:    store,
		Brand:    ldBrand(node.Brand),
		ImageURL: ldImage(node.Image),
	}

	if len(node.Offers) > 0 {
		var offer jsonLDOffer
		if err := json.Unmarshal(node.Offers, &offer); err != nil {
			var offers []jsonLDOffer
			if err := json.Unmarshal(node.Offers, &offers); err == nil && len(offers) > 0 {
				offer = offers[0]
			}
		}
		if v, ok := ldPrice(offer.Price); ok {
			p.CurrentPrice = &v
		} else if v, ok := ldPrice(offer.LowPrice); ok {
			p.CurrentPrice = &v
		}
		if v, ok := ldPrice(offer.HighPrice); ok && p.CurrentPrice != nil && v > *p.CurrentPrice {
			p.OriginalPrice = &v
		}
	}

	if p.SKU == "" || p.URL == "" {
		return types.DiscoveredProduct{}, false
	}
	return p, true
}

// ldPrice accepts the number-or-string price encodings both forms appear in
// the wild
func ldPrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil && num > 0 {
		return num, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		str = strings.TrimLeft(strings.TrimSpace(str), "$€£")
		str = strings.ReplaceAll(str, ",", "")
		if v, err := strconv.ParseFloat(str, 64); err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

func ldBrand(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

func ldImage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func resolveURL(pageURL, href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
