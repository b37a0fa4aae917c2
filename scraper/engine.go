// Package scraper retrieves marketplace pages over plain HTTP with session
// cookies, a shared throttle, referer rotation and block detection, and
// normalizes them into listings.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"listingsync/acqerr"
	"listingsync/config"
	"listingsync/htmlparse"
	"listingsync/httputil"
	"listingsync/logging"
	"listingsync/metrics"
	"listingsync/models"
)

const (
	methodGetListing = "get_listing"
	methodGetShop    = "get_shop"
	methodSearch     = "search"
)

// Archiver stores raw pages for later inspection.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte, contentType string) error
}

type Options struct {
	Marketplace *config.MarketplaceConfig
	MinInterval time.Duration
	Timeout     time.Duration
	UserAgent   string
	Transport   http.RoundTripper
	Renderer    PageRenderer
	Archiver    Archiver
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Engine is one scraping session. Its cookie jar and throttle are shared by
// every call made through it.
type Engine struct {
	mc       *config.MarketplaceConfig
	client   *http.Client
	jar      http.CookieJar
	throttle *Throttle
	detector *htmlparse.BlockDetector
	renderer PageRenderer
	archiver Archiver
	timeout  time.Duration
	ua       string
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(opts Options) (*Engine, error) {
	mc := opts.Marketplace
	if mc == nil {
		mc = config.DefaultEtsy()
	}
	if len(mc.AllowedHosts) == 0 || mc.RootURL == "" {
		return nil, acqerr.Configuration("scraper", "marketplace config needs allowed_hosts and root_url")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	transport := opts.Transport
	if transport == nil {
		transport, err = httputil.NewScrapingTransport("")
		if err != nil {
			return nil, err
		}
	}

	interval := opts.MinInterval
	if interval == 0 && mc.MinIntervalMS > 0 {
		interval = time.Duration(mc.MinIntervalMS) * time.Millisecond
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		mc:       mc,
		client:   httputil.NewScrapingClient(transport, jar, timeout),
		jar:      jar,
		throttle: NewThrottle(interval),
		detector: htmlparse.NewBlockDetector(mc.BlockSignatures...),
		renderer: opts.Renderer,
		archiver: opts.Archiver,
		timeout:  timeout,
		ua:       opts.UserAgent,
		logger:   logger.With(zap.String("provider", "scrape"), zap.String("marketplace", mc.ID)),
		metrics:  opts.Metrics,
		now:      now,
	}, nil
}

func (e *Engine) Name() string {
	return "scrape"
}

// Close releases the headless browser, if one was started.
func (e *Engine) Close() error {
	if e.renderer != nil {
		return e.renderer.Close()
	}
	return nil
}

// Canonicalize validates rawURL against this marketplace's hosts.
func (e *Engine) Canonicalize(rawURL string) (string, error) {
	return Canonicalize(rawURL, e.mc.AllowedHosts)
}

func (e *Engine) GetListingByURL(ctx context.Context, rawURL string) (listing *models.NormalizedListing, err error) {
	started := time.Now()
	target := rawURL
	defer func() {
		fields := 0
		if listing != nil {
			fields = listing.PopulatedFieldCount()
		}
		e.observe(methodGetListing, target, started, fields, err)
	}()

	canonical, err := e.Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}
	target = canonical
	lc := ExtractListingContext(target)
	if lc.ID == nil {
		return nil, acqerr.InvalidURL(methodGetListing, target, "not a listing url")
	}

	page, err := e.fetchDocument(ctx, methodGetListing, target, BuildReferers(target, lc, e.mc))
	if err != nil {
		return nil, err
	}

	listing = normalizeListing(page, target, lc, e.mc, e.now())
	if listing.Title == nil && listing.Description == nil && listing.Price.Amount == nil {
		e.archive(ctx, target, page.raw)
		return nil, acqerr.InsufficientData(methodGetListing, target)
	}
	return listing, nil
}

func (e *Engine) GetShopByURL(ctx context.Context, rawURL string) (shop *models.ShopProfile, err error) {
	started := time.Now()
	target := rawURL
	defer func() {
		fields := 0
		if shop != nil {
			fields = shop.PopulatedFieldCount()
		}
		e.observe(methodGetShop, target, started, fields, err)
	}()

	canonical, err := e.Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}
	target = canonical
	name := ShopNameFromURL(target)
	if name == "" {
		return nil, acqerr.InvalidURL(methodGetShop, target, "not a shop url")
	}

	page, err := e.fetchDocument(ctx, methodGetShop, target, []string{e.mc.RootURL, e.mc.BestSellersURL})
	if err != nil {
		return nil, err
	}
	return normalizeShop(page, target, name, e.now()), nil
}

// Search discovers listing URLs on a category or search page and resolves
// each. Listings that fail to resolve are skipped, so fewer than Limit
// results may come back.
func (e *Engine) Search(ctx context.Context, q models.SearchQuery) (results []*models.NormalizedListing, err error) {
	q = q.Normalized()
	started := time.Now()

	var pageURL string
	defer func() {
		e.observe(methodSearch, pageURL, started, len(results), err)
	}()

	switch q.Strategy {
	case models.StrategyBestSellers:
		pageURL = e.mc.BestSellersURL
	case models.StrategyKeyword:
		if strings.TrimSpace(q.Keywords) == "" {
			return nil, acqerr.InvalidURL(methodSearch, "", "keyword search needs keywords")
		}
		pageURL = e.mc.SearchURL + "?q=" + url.QueryEscape(q.Keywords)
	default:
		return nil, acqerr.InvalidURL(methodSearch, "", fmt.Sprintf("unknown strategy %q", q.Strategy))
	}
	if pageURL == "" {
		return nil, acqerr.Configuration(methodSearch, "no page configured for strategy "+string(q.Strategy))
	}

	page, err := e.fetchDocument(ctx, methodSearch, pageURL, []string{e.mc.RootURL})
	if err != nil {
		return nil, err
	}

	candidates := discoverListingURLs(page, e.mc, q.Limit)
	e.logger.Debug("discovered listing candidates",
		zap.String("strategy", string(q.Strategy)),
		zap.Int("candidates", len(candidates)),
		zap.Int("limit", q.Limit),
	)

	results = make([]*models.NormalizedListing, 0, len(candidates))
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		listing, err := e.GetListingByURL(ctx, candidate)
		if err != nil {
			e.logger.Info("skipping unresolved listing", zap.String("url", candidate), zap.Error(err))
			continue
		}
		results = append(results, listing)
	}
	return results, nil
}

type document struct {
	*htmlparse.Page
	finalURL string
	raw      []byte
}

// fetchDocument tries each referer in order, rotating only on blocks. When
// every referer is blocked, or the HTML has no usable content, the headless
// renderer gets one attempt.
func (e *Engine) fetchDocument(ctx context.Context, op, target string, referers []string) (*document, error) {
	if len(referers) == 0 {
		referers = []string{""}
	}

	var lastErr error
	for i, ref := range referers {
		doc, err := e.fetchOnce(ctx, op, target, ref)
		if err == nil {
			if !hasContent(doc.Page) && e.renderer != nil {
				if rendered, rerr := e.render(ctx, op, target, ref); rerr == nil {
					return rendered, nil
				}
			}
			return doc, nil
		}
		lastErr = err
		if acqerr.KindOf(err) != acqerr.KindBlocked {
			return nil, err
		}
		e.logger.Info("blocked, rotating referer",
			zap.String("url", target),
			zap.String("referer", ref),
			zap.Int("attempt", i+1),
			zap.Int("referers", len(referers)),
		)
	}

	if e.renderer != nil {
		doc, err := e.render(ctx, op, target, referers[0])
		if err == nil {
			return doc, nil
		}
		e.logger.Warn("browser fallback failed", zap.String("url", target), zap.Error(err))
	}
	return nil, lastErr
}

func (e *Engine) fetchOnce(ctx context.Context, op, target, referer string) (*document, error) {
	if err := e.throttle.Wait(ctx); err != nil {
		return nil, acqerr.FetchFailed(op, target, 0, fmt.Errorf("throttle: %w", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, acqerr.InvalidURL(op, target, err.Error())
	}
	httputil.SetBrowserHeaders(req, e.ua, referer)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, acqerr.FromTransport(op, target, err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, acqerr.FromTransport(op, target, err)
	}

	return e.classify(ctx, op, target, resp.Request.URL.String(), resp.StatusCode, body)
}

func (e *Engine) render(ctx context.Context, op, target, referer string) (*document, error) {
	if err := e.throttle.Wait(ctx); err != nil {
		return nil, acqerr.FetchFailed(op, target, 0, fmt.Errorf("throttle: %w", err))
	}
	renderCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	html, status, err := e.renderer.Render(renderCtx, target, referer)
	if err != nil {
		return nil, acqerr.FromTransport(op, target, err)
	}
	if status == 0 {
		status = http.StatusOK
	}
	e.logger.Info("rendered with headless browser", zap.String("url", target), zap.Int("status", status))
	return e.classify(ctx, op, target, target, status, []byte(html))
}

// classify turns a response into a document or a taxonomy error.
func (e *Engine) classify(ctx context.Context, op, target, finalURL string, status int, body []byte) (*document, error) {
	if reason, blocked := e.detector.Detect(status, string(body)); blocked {
		// Signature text on a page that still carries listing content (JSON-LD
		// or og:title) is page copy, not an interstitial.
		if status != http.StatusForbidden {
			if page, err := htmlparse.Parse(body); err == nil && hasContent(page) {
				return &document{Page: page, finalURL: finalURL, raw: body}, nil
			}
		}
		e.archive(ctx, target, body)
		return nil, acqerr.Blocked(op, target, status, reason)
	}
	if err := acqerr.FromStatus(op, target, status); err != nil {
		return nil, err
	}

	page, err := htmlparse.Parse(body)
	if err != nil {
		return nil, acqerr.FetchFailed(op, target, status, err)
	}
	return &document{Page: page, finalURL: finalURL, raw: body}, nil
}

func hasContent(p *htmlparse.Page) bool {
	return p.Product() != nil || p.MetaValue("og:title") != ""
}

func (e *Engine) archive(ctx context.Context, target string, body []byte) {
	if e.archiver == nil || len(body) == 0 {
		return
	}
	host := "unknown"
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host = u.Host
	}
	key := fmt.Sprintf("raw/%s/%s/%s.html", host, e.now().UTC().Format("2006-01-02"), uuid.NewString())
	if err := e.archiver.Archive(ctx, key, body, "text/html; charset=utf-8"); err != nil {
		e.logger.Warn("archive raw page failed", zap.String("url", target), zap.Error(err))
		return
	}
	e.logger.Debug("archived raw page", zap.String("url", target), zap.String("key", key))
}

func (e *Engine) observe(method, target string, started time.Time, populated int, err error) {
	d := time.Since(started)
	status := acqerr.AttemptStatus(err)

	var fields []zap.Field
	if err == nil {
		fields = append(fields, zap.Int("fields_populated", populated), zap.String("source", string(models.SourceScrape)))
	} else {
		fields = append(fields, zap.String("error_kind", acqerr.KindOf(err).String()), zap.Error(err))
		if code := acqerr.StatusCode(err); code != 0 {
			fields = append(fields, zap.Int("status_code", code))
		}
	}
	logging.Attempt(e.logger, method, target, d, status, fields...)
	e.metrics.ObserveAcquisition(method, status, d)
}
