package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"listingsync/acqerr"
)

const maxPageBytes = 8 << 20

// Page is a fetched document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Header     http.Header
}

// PageFetcher is a plain GET with browser headers. Non-2xx responses are
// mapped to acqerr kinds.
type PageFetcher struct {
	client    *http.Client
	userAgent string
}

func NewPageFetcher(client *http.Client, userAgent string) *PageFetcher {
	return &PageFetcher{client: client, userAgent: userAgent}
}

func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, acqerr.InvalidURL("fetch", rawURL, err.Error())
	}
	SetBrowserHeaders(req, f.userAgent, "")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, acqerr.FromTransport("fetch", rawURL, err)
	}
	defer resp.Body.Close()

	if e := acqerr.FromStatus("fetch", rawURL, resp.StatusCode); e != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, e
	}

	body, err := ReadBody(resp)
	if err != nil {
		return nil, acqerr.FetchFailed("fetch", rawURL, resp.StatusCode, err)
	}

	return &Page{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

// ReadBody reads at most 8 MiB of a response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
