// Package extractor turns arbitrary product URLs into NormalizedProducts.
// Marketplace-specific extractors are matched by hostname and path only; a
// generic structured-data extractor handles everything else.
package extractor

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"listingsync/acqerr"
	"listingsync/httputil"
	"listingsync/metrics"
	"listingsync/models"
)

// Fetcher retrieves a page. httputil.PageFetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*httputil.Page, error)
}

type Extractor interface {
	Name() string
	// CanHandle must not touch the network.
	CanHandle(u *url.URL) bool
	Extract(ctx context.Context, u *url.URL) (*models.NormalizedProduct, error)
}

type Registry struct {
	extractors []Extractor
	generic    Extractor
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewRegistry dispatches to extractors in order. generic may be nil, in which
// case unmatched URLs are unsupported.
func NewRegistry(generic Extractor, logger *zap.Logger, m *metrics.Metrics, extractors ...Extractor) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		extractors: extractors,
		generic:    generic,
		logger:     logger.With(zap.String("component", "extractor")),
		metrics:    m,
	}
}

// Default is the registry for every supported marketplace.
func Default(f Fetcher, logger *zap.Logger, m *metrics.Metrics) *Registry {
	return NewRegistry(NewGeneric(f), logger, m,
		NewEtsy(f),
		NewAmazon(f),
		NewEbay(f),
		NewShopify(f),
		NewWalmart(f),
	)
}

// Extract resolves rawURL with the first extractor that claims it, or the
// generic one. An empty product from a site-specific extractor is rejected as
// InsufficientData. An empty result from the generic extractor means no
// extractor recognized the page and is reported as UnsupportedMarketplace.
func (r *Registry) Extract(ctx context.Context, rawURL string) (product *models.NormalizedProduct, err error) {
	started := time.Now()
	name := "none"
	defer func() {
		status := "success"
		if err != nil {
			status = acqerr.KindOf(err).String()
		}
		r.metrics.Extraction(name, status)
		fields := []zap.Field{
			zap.String("extractor", name),
			zap.String("url", rawURL),
			zap.Duration("duration", time.Since(started)),
		}
		if err != nil {
			r.logger.Warn("extraction failed", append(fields, zap.Error(err))...)
			return
		}
		r.logger.Info("extraction", fields...)
	}()

	u, err := parseProductURL(rawURL)
	if err != nil {
		return nil, err
	}

	ex := r.match(u)
	if ex == nil {
		return nil, acqerr.UnsupportedMarketplace("extract", u.String())
	}
	name = ex.Name()

	product, err = ex.Extract(ctx, u)
	if err != nil {
		if ex == r.generic && acqerr.KindOf(err) == acqerr.KindInsufficientData {
			return nil, acqerr.UnsupportedMarketplace("extract", u.String())
		}
		return nil, err
	}
	if product == nil || product.IsEmpty() {
		if ex == r.generic {
			return nil, acqerr.UnsupportedMarketplace("extract", u.String())
		}
		return nil, acqerr.InsufficientData("extract", u.String())
	}
	return product, nil
}

func (r *Registry) match(u *url.URL) Extractor {
	for _, ex := range r.extractors {
		if ex.CanHandle(u) {
			return ex
		}
	}
	if r.generic != nil && r.generic.CanHandle(u) {
		return r.generic
	}
	return nil
}

// parseProductURL requires an absolute http(s) URL and drops the fragment.
func parseProductURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, acqerr.InvalidURL("extract", raw, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, acqerr.InvalidURL("extract", raw, "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return nil, acqerr.InvalidURL("extract", raw, "missing host")
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.User = nil
	return u, nil
}

// hostIs reports whether host is domain or a subdomain of it.
func hostIs(host string, domains ...string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
