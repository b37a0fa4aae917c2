package extractor

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"listingsync/htmlparse"
	"listingsync/models"
)

var walmartItemRegex = regexp.MustCompile(`^/ip/(?:[^/]+/)?(\d+)`)

// Walmart reads the product state embedded in the __NEXT_DATA__ script.
type Walmart struct {
	fetcher Fetcher
}

func NewWalmart(f Fetcher) *Walmart {
	return &Walmart{fetcher: f}
}

func (w *Walmart) Name() string {
	return "walmart"
}

func (w *Walmart) CanHandle(u *url.URL) bool {
	return hostIs(u.Hostname(), "walmart.com", "walmart.ca") && walmartItemRegex.MatchString(u.Path)
}

type walmartNextData struct {
	Props struct {
		PageProps struct {
			InitialData struct {
				Data struct {
					Product *walmartProduct `json:"product"`
				} `json:"data"`
			} `json:"initialData"`
		} `json:"pageProps"`
	} `json:"props"`
}

type walmartProduct struct {
	UsItemID           string   `json:"usItemId"`
	Name               string   `json:"name"`
	ShortDescription   string   `json:"shortDescription"`
	Brand              string   `json:"brand"`
	SellerName         string   `json:"sellerName"`
	AvailabilityStatus string   `json:"availabilityStatus"`
	AverageRating      *float64 `json:"averageRating"`
	NumberOfReviews    *int     `json:"numberOfReviews"`
	PriceInfo          struct {
		CurrentPrice *struct {
			Price        *float64 `json:"price"`
			CurrencyUnit string   `json:"currencyUnit"`
		} `json:"currentPrice"`
	} `json:"priceInfo"`
	ImageInfo struct {
		AllImages []struct {
			URL string `json:"url"`
		} `json:"allImages"`
	} `json:"imageInfo"`
	Category struct {
		Path []struct {
			Name string `json:"name"`
		} `json:"path"`
	} `json:"category"`
}

func (w *Walmart) Extract(ctx context.Context, u *url.URL) (*models.NormalizedProduct, error) {
	page, base, err := fetchPage(ctx, w.fetcher, u)
	if err != nil {
		return nil, err
	}

	p := newProduct(w.Name(), u)
	if m := walmartItemRegex.FindStringSubmatch(u.Path); m != nil {
		id := m[1]
		p.ExternalID = &id
	}

	if raw := page.Script("script#__NEXT_DATA__"); raw != "" {
		var next walmartNextData
		if json.Unmarshal([]byte(raw), &next) == nil && next.Props.PageProps.InitialData.Data.Product != nil {
			applyWalmartProduct(next.Props.PageProps.InitialData.Data.Product, base, p)
			if rawProduct, err := json.Marshal(next.Props.PageProps.InitialData.Data.Product); err == nil {
				p.Raw = rawProduct
			}
		}
	}

	applyStructured(page, base, p)
	if p.Price.Amount == nil {
		p.Price.Amount, p.Price.Currency = firstPrice(page, `[itemprop="price"]`, `[data-testid="price-wrap"] span`)
	}
	return p, nil
}

func applyWalmartProduct(wp *walmartProduct, base *url.URL, p *models.NormalizedProduct) {
	if wp.UsItemID != "" {
		id := wp.UsItemID
		p.ExternalID = &id
	}
	setText(&p.Title, htmlparse.CollapseSpace(wp.Name))
	setText(&p.Description, htmlparse.StripHTML(wp.ShortDescription))
	setText(&p.Brand, wp.Brand)
	setText(&p.Seller, wp.SellerName)
	if cp := wp.PriceInfo.CurrentPrice; cp != nil && cp.Price != nil {
		p.Price.Amount = cp.Price
		setText(&p.Price.Currency, strings.ToUpper(cp.CurrencyUnit))
	}
	p.Rating = wp.AverageRating
	p.ReviewCount = wp.NumberOfReviews
	p.Availability = availabilityOf(wp.AvailabilityStatus)

	imgs := make([]string, 0, len(wp.ImageInfo.AllImages))
	for _, img := range wp.ImageInfo.AllImages {
		imgs = append(imgs, img.URL)
	}
	p.Images = htmlparse.AbsoluteURLs(base, imgs)

	var path []string
	for _, c := range wp.Category.Path {
		path = append(path, c.Name)
	}
	if len(path) > 0 {
		p.CategoryPath = htmlparse.Dedupe(path)
	}
}
