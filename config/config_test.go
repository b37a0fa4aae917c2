package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKETPLACE_CONFIG_DIR", t.TempDir())
	t.Setenv("ACQUISITION_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeScrape, cfg.Mode)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scraper.MinInterval)
	assert.Equal(t, 25*time.Second, cfg.Scraper.Timeout)
	assert.False(t, cfg.Scraper.BrowserFallback)
	assert.Equal(t, 1, cfg.Sync.Concurrency)
	assert.Equal(t, "https://www.etsy.com/featured/best-sellers", cfg.Marketplace("etsy").BestSellersURL)
	assert.Nil(t, cfg.Marketplace("unknown"))
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("MARKETPLACE_CONFIG_DIR", t.TempDir())
	t.Setenv("ACQUISITION_MODE", "magic")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACQUISITION_MODE")
}

func TestLoadMarketplaceYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := "id: etsy\nbest_sellers_url: https://www.etsy.com/c/jewelry\nblock_signatures: [\"slow down\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "etsy.yaml"), []byte(yaml), 0o644))

	t.Setenv("MARKETPLACE_CONFIG_DIR", dir)
	t.Setenv("ACQUISITION_MODE", "api")
	t.Setenv("BROWSER_FALLBACK_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	m := cfg.Marketplace("etsy")
	assert.Equal(t, ModeAPI, cfg.Mode)
	assert.True(t, cfg.Scraper.BrowserFallback)
	assert.Equal(t, "https://www.etsy.com/c/jewelry", m.BestSellersURL)
	assert.Equal(t, "https://www.etsy.com/", m.RootURL)
	assert.Equal(t, []string{"slow down"}, m.BlockSignatures)
	assert.Equal(t, 1500, m.MinIntervalMS)
}
