package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"listingsync/httputil"
)

// PageRenderer loads a URL in a real browser and returns the rendered HTML.
type PageRenderer interface {
	Render(ctx context.Context, url, referer string) (string, int, error)
	Close() error
}

// BrowserRenderer owns one headless Chromium, started on first use. Every
// Render gets a fresh browser context that is closed before returning.
type BrowserRenderer struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
	userAgent   string
	timeout     time.Duration
	logger      *zap.Logger
}

func NewBrowserRenderer(userAgent string, timeout time.Duration, logger *zap.Logger) *BrowserRenderer {
	if userAgent == "" {
		userAgent = httputil.DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &BrowserRenderer{userAgent: userAgent, timeout: timeout, logger: logger}
}

func (r *BrowserRenderer) ensureBrowser() (playwright.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return r.browser, nil
	}

	var err error
	r.pw, err = playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	r.browser, err = r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		r.pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	r.initialized = true
	r.logger.Info("headless browser started")
	return r.browser, nil
}

func (r *BrowserRenderer) Render(ctx context.Context, url, referer string) (string, int, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return "", 0, err
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(r.userAgent),
		Locale:    playwright.String("en-US"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("new browser context: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return "", 0, fmt.Errorf("new page: %w", err)
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	opts := playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}
	if referer != "" {
		opts.Referer = playwright.String(referer)
	}

	resp, err := page.Goto(url, opts)
	if err != nil {
		return "", 0, fmt.Errorf("goto: %w", err)
	}
	status := 0
	if resp != nil {
		status = resp.Status()
	}

	content, err := page.Content()
	if err != nil {
		return "", status, fmt.Errorf("page content: %w", err)
	}
	return content, status, nil
}

func (r *BrowserRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	if r.browser != nil {
		r.browser.Close()
	}
	if r.pw != nil {
		r.pw.Stop()
	}
	r.initialized = false
	return nil
}
