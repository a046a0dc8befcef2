package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const walmartBrowsePage = `<html><body>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"initialData":{"searchResult":{
 "itemStacks":[{"items":[
   {"usItemId":"123456789","name":"55 inch 4K TV","canonicalUrl":"/ip/55-4K-TV/123456789",
    "brand":"ViewMax","imageUrl":"https://i5.walmartimages.com/tv.jpg",
    "price":228.00,"wasPrice":499.00},
   {"usItemId":"987654321","name":"HDMI Cable","price":6.99,"listPrice":12.99},
   {"usItemId":"","name":"ad placeholder"}
 ]}],
 "paginationV2":{"nextPageUrl":"/browse/electronics?page=2"}
}}}}}
</script></body></html>`

func TestWalmartExtract(t *testing.T) {
	p := NewWalmartParser()
	products, err := p.Extract([]byte(walmartBrowsePage), "https://www.walmart.com/browse/electronics")
	require.NoError(t, err)
	require.Len(t, products, 2)

	tv := products[0]
	assert.Equal(t, "123456789", tv.SKU)
	assert.Equal(t, "55 inch 4K TV", tv.Title)
	assert.Equal(t, "https://www.walmart.com/ip/55-4K-TV/123456789", tv.URL)
	assert.Equal(t, "ViewMax", tv.Brand)
	require.NotNil(t, tv.CurrentPrice)
	assert.InDelta(t, 228.0, *tv.CurrentPrice, 0.001)
	require.NotNil(t, tv.OriginalPrice)
	assert.InDelta(t, 499.0, *tv.OriginalPrice, 0.001)
	assert.Nil(t, tv.MSRP)

	cable := products[1]
	assert.Equal(t, "https://www.walmart.com/ip/987654321", cable.URL)
	assert.Nil(t, cable.OriginalPrice)
	require.NotNil(t, cable.MSRP)
	assert.InDelta(t, 12.99, *cable.MSRP, 0.001)
}

func TestWalmartNextPage(t *testing.T) {
	p := NewWalmartParser()
	next := p.NextPageURL([]byte(walmartBrowsePage), "https://www.walmart.com/browse/electronics")
	assert.Equal(t, "https://www.walmart.com/browse/electronics?page=2", next)
}

func TestWalmartFallsBackToJSONLD(t *testing.T) {
	body := []byte(`<html><script type="application/ld+json">
{"@type":"Product","sku":"WM-1","name":"Blender","url":"https://www.walmart.com/ip/WM-1","offers":{"price":39}}
</script></html>`)

	p := NewWalmartParser()
	products, err := p.Extract(body, "https://www.walmart.com/browse/kitchen")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "WM-1", products[0].SKU)
	assert.Equal(t, "walmart", products[0].Store)
}
