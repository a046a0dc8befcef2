package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const amazonResultsPage = `<html><body>
<div data-asin="B0TESTASIN" class="s-result-item">
  <h2 class="a-size-mini"><span>Wireless Headphones, Noise Cancelling</span></h2>
  <a class="a-link-normal" href="/Wireless-Headphones/dp/B0TESTASIN/ref=sr_1_1?keywords=headphones">
  <img src="https://m.media-amazon.com/images/I/img1.jpg">
  <span class="a-price"><span class="a-offscreen">$49.99</span></span>
  <span class="a-price a-text-price"><span class="a-offscreen">$199.99</span></span>
</div>
<div data-asin="B0SECONDSK" class="s-result-item">
  <h2><span>USB-C Cable 6ft</span></h2>
  <span class="a-price"><span class="a-offscreen">$8.49</span></span>
</div>
<span class="s-pagination-item"><a href="/s?k=headphones&amp;page=2" class="s-pagination-next">Next</a></span>
</body></html>`

func TestAmazonExtract(t *testing.T) {
	p := NewAmazonParser()
	products, err := p.Extract([]byte(amazonResultsPage), "https://www.amazon.com/s?k=headphones")
	require.NoError(t, err)
	require.Len(t, products, 2)

	first := products[0]
	assert.Equal(t, "B0TESTASIN", first.SKU)
	assert.Equal(t, "Wireless Headphones, Noise Cancelling", first.Title)
	assert.Equal(t, "https://www.amazon.com/Wireless-Headphones/dp/B0TESTASIN/ref=sr_1_1", first.URL)
	require.NotNil(t, first.CurrentPrice)
	assert.InDelta(t, 49.99, *first.CurrentPrice, 0.001)
	require.NotNil(t, first.OriginalPrice)
	assert.InDelta(t, 199.99, *first.OriginalPrice, 0.001)

	second := products[1]
	assert.Equal(t, "B0SECONDSK", second.SKU)
	assert.Nil(t, second.OriginalPrice)
	assert.Equal(t, "https://www.amazon.com/dp/B0SECONDSK", second.URL)
}

func TestAmazonNextPage(t *testing.T) {
	p := NewAmazonParser()
	next := p.NextPageURL([]byte(amazonResultsPage), "https://www.amazon.com/s?k=headphones")
	assert.Equal(t, "https://www.amazon.com/s?k=headphones&page=2", next)
}

func TestAmazonEmptyPage(t *testing.T) {
	p := NewAmazonParser()
	products, err := p.Extract([]byte(`<html><body>No results for your search</body></html>`), "https://www.amazon.com/s?k=x")
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Empty(t, p.NextPageURL([]byte(`<html></html>`), "https://www.amazon.com/s"))
}
