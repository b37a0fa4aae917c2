// Package metrics exposes Prometheus collectors for acquisition, cache and
// sync. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "listingsync"

type Metrics struct {
	Registry            *prometheus.Registry
	AcquisitionAttempts *prometheus.CounterVec
	AcquisitionDuration *prometheus.HistogramVec
	CacheLookups        *prometheus.CounterVec
	ProviderFallbacks   *prometheus.CounterVec
	ExtractorResults    *prometheus.CounterVec
	SyncRuns            *prometheus.CounterVec
	SyncListings        prometheus.Counter
	TokenRefreshes      prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		AcquisitionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_attempts_total",
			Help:      "Listing acquisition attempts by method and outcome.",
		}, []string{"method", "status"}),
		AcquisitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquisition_duration_seconds",
			Help:      "Latency of acquisition attempts by method.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"method"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Listing cache lookups by result.",
		}, []string{"result"}),
		ProviderFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Times the secondary provider was used after a primary failure.",
		}, []string{"method"}),
		ExtractorResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_results_total",
			Help:      "Product extractions by marketplace and outcome.",
		}, []string{"marketplace", "status"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Account sync runs by final status.",
		}, []string{"status"}),
		SyncListings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_listings_total",
			Help:      "Listings upserted by account syncs.",
		}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "OAuth token refreshes performed before sync.",
		}),
	}

	registry.MustRegister(
		m.AcquisitionAttempts,
		m.AcquisitionDuration,
		m.CacheLookups,
		m.ProviderFallbacks,
		m.ExtractorResults,
		m.SyncRuns,
		m.SyncListings,
		m.TokenRefreshes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) ObserveAcquisition(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AcquisitionAttempts.WithLabelValues(method, status).Inc()
	m.AcquisitionDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Fallback(method string) {
	if m == nil {
		return
	}
	m.ProviderFallbacks.WithLabelValues(method).Inc()
}

func (m *Metrics) Extraction(marketplace, status string) {
	if m == nil {
		return
	}
	m.ExtractorResults.WithLabelValues(marketplace, status).Inc()
}

func (m *Metrics) SyncRun(status string, listings int) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(status).Inc()
	m.SyncListings.Add(float64(listings))
}

func (m *Metrics) TokenRefreshed() {
	if m == nil {
		return
	}
	m.TokenRefreshes.Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, registry *prometheus.Registry, logger *zap.Logger) error {
	if addr == "" {
		logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server starting", zap.String("addr", addr), zap.String("path", "/metrics"))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
