package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONLDProduct(t *testing.T) {
	body := []byte(`<html><head>
<script type="application/ld+json">
{"@type":"Product","name":"Cordless Drill","sku":"DRL-100","url":"/p/drl-100",
 "brand":{"name":"PowerCo"},"image":"https://cdn/x.jpg",
 "offers":{"price":"79.99","highPrice":"129.99"}}
</script></head></html>`)

	products := ExtractJSONLD(body, "https://shop.example.com/tools", "teststore")
	require.Len(t, products, 1)

	p := products[0]
	assert.Equal(t, "DRL-100", p.SKU)
	assert.Equal(t, "Cordless Drill", p.Title)
	assert.Equal(t, "https://shop.example.com/p/drl-100", p.URL)
	assert.Equal(t, "PowerCo", p.Brand)
	assert.Equal(t, "teststore", p.Store)
	require.NotNil(t, p.CurrentPrice)
	assert.InDelta(t, 79.99, *p.CurrentPrice, 0.001)
	require.NotNil(t, p.OriginalPrice)
	assert.InDelta(t, 129.99, *p.OriginalPrice, 0.001)
}

func TestExtractJSONLDItemList(t *testing.T) {
	body := []byte(`<script type="application/ld+json">
{"@type":"ItemList","itemListElement":[
 {"item":{"@type":"Product","name":"A","sku":"S1","url":"https://x/a","offers":{"price":10}}},
 {"item":{"@type":"Product","name":"B","sku":"S2","url":"https://x/b","offers":{"price":20}}},
 {"item":{"@type":"Product","name":"no sku","url":"https://x/c"}}
]}</script>`)

	products := ExtractJSONLD(body, "https://x", "teststore")
	require.Len(t, products, 2)
	assert.Equal(t, "S1", products[0].SKU)
	assert.Equal(t, "S2", products[1].SKU)
}

func TestExtractJSONLDGraphAndMalformed(t *testing.T) {
	body := []byte(`<script type="application/ld+json">{not json}</script>
<script type="application/ld+json">
{"@graph":[{"@type":"BreadcrumbList"},{"@type":"Product","sku":"G1","name":"g","url":"https://x/g","offers":{"price":"$1,299.00"}}]}
</script>`)

	products := ExtractJSONLD(body, "https://x", "s")
	require.Len(t, products, 1)
	assert.Equal(t, "G1", products[0].SKU)
	require.NotNil(t, products[0].CurrentPrice)
	assert.InDelta(t, 1299.0, *products[0].CurrentPrice, 0.001)
}

func TestExtractJSONLDNone(t *testing.T) {
	assert.Empty(t, ExtractJSONLD([]byte(`<html><body>plain</body></html>`), "https://x", "s"))
}
