package httputil

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"listingsync/config"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxRedirects = 5

type Clients struct {
	Scraping *http.Client // proxied, for marketplace pages
	API      *http.Client // direct, for official APIs and token exchange
}

func NewClients(cfg config.ScraperConfig) (*Clients, error) {
	transport, err := NewScrapingTransport(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}

	return &Clients{
		Scraping: NewScrapingClient(transport, nil, cfg.Timeout),
		API:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewScrapingTransport returns an HTTP/1.1-only transport, optionally proxied.
func NewScrapingTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return transport, nil
}

// NewScrapingClient builds a client that follows a bounded number of
// redirects. jar may be nil.
func NewScrapingClient(transport http.RoundTripper, jar http.CookieJar, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// SetBrowserHeaders applies the header set of a desktop Chrome navigation.
func SetBrowserHeaders(req *http.Request, userAgent, referer string) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	if referer != "" {
		req.Header.Set("Referer", referer)
		req.Header.Set("Sec-Fetch-Site", "same-origin")
	} else {
		req.Header.Set("Sec-Fetch-Site", "none")
	}
}
