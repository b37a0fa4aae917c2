package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveAcquisition(t *testing.T) {
	m := New()
	m.ObserveAcquisition("getListingByUrl", "success", 120*time.Millisecond)
	m.ObserveAcquisition("getListingByUrl", "blocked", time.Second)
	m.ObserveAcquisition("getListingByUrl", "success", 80*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AcquisitionAttempts.WithLabelValues("getListingByUrl", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcquisitionAttempts.WithLabelValues("getListingByUrl", "blocked")))
}

func TestSyncAndCacheCounters(t *testing.T) {
	m := New()
	m.SyncRun("success", 12)
	m.SyncRun("failed", 3)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.TokenRefreshed()

	assert.Equal(t, 15.0, testutil.ToFloat64(m.SyncListings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRuns.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAcquisition("search", "error", time.Second)
		m.CacheLookup(true)
		m.Fallback("search")
		m.Extraction("amazon", "success")
		m.SyncRun("success", 1)
		m.TokenRefreshed()
	})
}
