package htmlparse

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err, "read fixture %s", name)
	return data
}

func TestParseProductJSONLD(t *testing.T) {
	page, err := Parse(loadFixture(t, "product_jsonld.html"))
	require.NoError(t, err)

	p := page.Product()
	require.NotNil(t, p)

	assert.Equal(t, "Personalized Leather Journal Notebook", *p.Name)
	assert.Equal(t, "Handmade & engraved.\nRefillable A5 pages.", *p.Description)
	assert.Equal(t, "945529830", *p.SKU)
	assert.Equal(t, "LeatherCraftCo", *p.Brand)
	assert.Equal(t, []string{
		"https://i.etsystatic.com/123/il_fullxfull.1.jpg",
		"https://i.etsystatic.com/123/il_fullxfull.2.jpg",
	}, p.Images)
	assert.Equal(t, []string{"Books, Movies & Music", "Books", "Blank Books", "Journals & Notebooks"}, p.Category)
	assert.Equal(t, []string{"Leather", "Paper"}, p.Materials)
	assert.Equal(t, []string{"journal", "leather journal", "gift"}, p.Keywords)

	require.NotNil(t, p.Price)
	assert.InDelta(t, 34.99, *p.Price, 0.001)
	assert.Equal(t, "USD", *p.Currency)
	assert.Equal(t, "InStock", *p.Availability)
	assert.InDelta(t, 4.9, *p.RatingValue, 0.001)
	assert.Equal(t, 1520, *p.ReviewCount)
	assert.Equal(t, "LeatherCraftCo", *p.SellerName)

	require.NotNil(t, p.FreeShipping)
	assert.True(t, *p.FreeShipping)
	assert.Equal(t, "US", *p.ShipsFrom)
	assert.Equal(t, "1-3 days", *p.HandlingTime)
	assert.NotEmpty(t, p.Raw)
}

func TestParseMetaTags(t *testing.T) {
	page, err := Parse(loadFixture(t, "product_jsonld.html"))
	require.NoError(t, err)

	assert.Equal(t, "Personalized Leather Journal Notebook", page.MetaValue("og:title"))
	assert.Equal(t, "34.99", page.MetaValue("og:price:amount", "product:price:amount"))
	assert.Equal(t, "Personalized Leather Journal Notebook - Etsy", page.Title)
	assert.Equal(t, "Personalized Leather Journal Notebook", page.Text("h1"))
}

func TestProductMissingFieldsStayNil(t *testing.T) {
	html := `<html><head><script type="application/ld+json">
	{"@graph":[{"@type":"BreadcrumbList"},{"@type":["Thing","Product"],"name":"Mug"}]}
	</script></head></html>`

	page, err := Parse([]byte(html))
	require.NoError(t, err)

	p := page.Product()
	require.NotNil(t, p)
	assert.Equal(t, "Mug", *p.Name)
	assert.Nil(t, p.Price)
	assert.Nil(t, p.Currency)
	assert.Nil(t, p.Description)
	assert.Nil(t, p.FreeShipping)
	assert.Empty(t, p.Images)
}

func TestPageWithoutStructuredData(t *testing.T) {
	page, err := Parse([]byte(`<html><head><script type="application/ld+json">{broken</script></head></html>`))
	require.NoError(t, err)
	assert.Nil(t, page.Product())
	assert.Empty(t, page.JSONLD)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       string
		amount   float64
		currency string
	}{
		{"$1,234.50", 1234.50, "USD"},
		{"1.234,50 €", 1234.50, "EUR"},
		{"£12", 12, "GBP"},
		{"CA$19.99", 19.99, "CAD"},
		{"12,50", 12.50, ""},
		{"USD 1,250", 1250, "USD"},
		{"0.00", 0, ""},
		{"12.99\n 3 left", 12.99, ""},
		{"$12.99\n\n4 in stock", 12.99, "USD"},
		{"1 234,50 €", 1234.50, "EUR"},
		{"1\u00a0234,50 €", 1234.50, "EUR"},
		{"1234.50", 1234.50, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			amount, currency := ParsePrice(tt.in)
			require.NotNil(t, amount)
			assert.InDelta(t, tt.amount, *amount, 0.0001)
			if tt.currency == "" {
				assert.Nil(t, currency)
			} else {
				require.NotNil(t, currency)
				assert.Equal(t, tt.currency, *currency)
			}
		})
	}

	amount, currency := ParsePrice("Sold out")
	assert.Nil(t, amount)
	assert.Nil(t, currency)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Hello world\nSecond line", StripHTML("<p>Hello   <b>world</b></p><p>Second line</p>"))
	assert.Equal(t, "Tom & Jerry", StripHTML("Tom &amp; Jerry"))
	assert.Equal(t, "", StripHTML(""))
}

func TestAbsoluteURLs(t *testing.T) {
	base, _ := url.Parse("https://www.example.com/products/mug")
	got := AbsoluteURLs(base, []string{"/img/a.jpg", "//cdn.example.com/b.jpg", "/img/a.jpg", "data:image/png;base64,xx", ""})
	assert.Equal(t, []string{"https://www.example.com/img/a.jpg", "https://cdn.example.com/b.jpg"}, got)
}

func TestBlockDetector(t *testing.T) {
	d := NewBlockDetector("custom wall")

	reason, blocked := d.Detect(403, "")
	assert.True(t, blocked)
	assert.Equal(t, "status 403", reason)

	_, blocked = d.Detect(200, `<div id="px-captcha"></div>`)
	assert.True(t, blocked)

	reason, blocked = d.Detect(200, "You hit a Custom Wall")
	assert.True(t, blocked)
	assert.Equal(t, "custom wall", reason)

	_, blocked = d.Detect(200, "<html><h1>Journal</h1></html>")
	assert.False(t, blocked)
}
