package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"listingsync/metrics"
	"listingsync/models"
)

// FallbackProvider tries primary and, on any error, delegates to secondary.
// The primary's error is only surfaced when the secondary fails too.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewFallback(primary, secondary Provider, logger *zap.Logger, m *metrics.Metrics) *FallbackProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackProvider{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
		metrics:   m,
	}
}

func (f *FallbackProvider) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *FallbackProvider) GetListingByURL(ctx context.Context, rawURL string) (*models.NormalizedListing, error) {
	return withFallback(f, "get_listing", zap.String("url", rawURL), func(p Provider) (*models.NormalizedListing, error) {
		return p.GetListingByURL(ctx, rawURL)
	})
}

func (f *FallbackProvider) GetShopByURL(ctx context.Context, rawURL string) (*models.ShopProfile, error) {
	return withFallback(f, "get_shop", zap.String("url", rawURL), func(p Provider) (*models.ShopProfile, error) {
		return p.GetShopByURL(ctx, rawURL)
	})
}

func (f *FallbackProvider) Search(ctx context.Context, q models.SearchQuery) ([]*models.NormalizedListing, error) {
	return withFallback(f, "search", zap.String("strategy", string(q.Normalized().Strategy)), func(p Provider) ([]*models.NormalizedListing, error) {
		return p.Search(ctx, q)
	})
}

// Close closes whichever strategies hold resources.
func (f *FallbackProvider) Close() error {
	var errs []error
	for _, p := range []Provider{f.primary, f.secondary} {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func withFallback[T any](f *FallbackProvider, method string, target zap.Field, call func(Provider) (T, error)) (T, error) {
	result, primaryErr := call(f.primary)
	if primaryErr == nil {
		return result, nil
	}

	f.logger.Warn("provider fallback",
		zap.String("method", method),
		target,
		zap.String("primary", f.primary.Name()),
		zap.String("secondary", f.secondary.Name()),
		zap.Error(primaryErr),
	)
	f.metrics.Fallback(method)

	result, err := call(f.secondary)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w (%s also failed: %v)", err, f.primary.Name(), primaryErr)
	}
	return result, nil
}
