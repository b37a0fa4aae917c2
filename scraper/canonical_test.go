package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingsync/acqerr"
	"listingsync/config"
)

var etsyHosts = config.DefaultEtsy().AllowedHosts

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://www.etsy.com/listing/945529830/personalized-leather-journal-notebook",
		"https://www.etsy.com/listing/945529830/personalized-leather-journal-notebook?ref=hp_rv-1&pro=1",
		"https://www.etsy.com/listing/945529830/personalized-leather-journal-notebook#reviews",
		"https://www.etsy.com/listing/945529830/personalized-leather-journal-notebook/?ga_order=most_relevant#x",
		"HTTPS://WWW.ETSY.COM/listing/945529830/personalized-leather-journal-notebook?",
		"https://www.etsy.com:443/listing/945529830/personalized-leather-journal-notebook",
	}
	want := "https://www.etsy.com/listing/945529830/personalized-leather-journal-notebook"

	for _, in := range inputs {
		once, err := Canonicalize(in, etsyHosts)
		require.NoError(t, err, in)
		twice, err := Canonicalize(once, etsyHosts)
		require.NoError(t, err, in)

		assert.Equal(t, want, once, in)
		assert.Equal(t, once, twice, in)
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	for _, in := range []string{
		"https://www.amazon.com/dp/B000",
		"https://notetsy.com/listing/1",
		"ftp://www.etsy.com/listing/1",
		"/listing/1/relative",
		"http://[::1",
	} {
		_, err := Canonicalize(in, etsyHosts)
		require.Error(t, err, in)
		assert.Equal(t, acqerr.KindInvalidURL, acqerr.KindOf(err), in)
	}
}

func TestCanonicalizeAllowsSubdomains(t *testing.T) {
	got, err := Canonicalize("https://m.etsy.com/listing/1/x?utm_source=y", []string{"etsy.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://m.etsy.com/listing/1/x", got)
}

func TestExtractListingContext(t *testing.T) {
	lc := ExtractListingContext("https://www.etsy.com/listing/945529830/personalized-leather-journal-notebook")
	require.NotNil(t, lc.ID)
	require.NotNil(t, lc.Slug)
	assert.Equal(t, "945529830", *lc.ID)
	assert.Equal(t, "personalized-leather-journal-notebook", *lc.Slug)

	lc = ExtractListingContext("https://www.etsy.com/listing/945529830")
	require.NotNil(t, lc.ID)
	assert.Equal(t, "945529830", *lc.ID)
	assert.Nil(t, lc.Slug)

	lc = ExtractListingContext("https://www.etsy.com/shop/test")
	assert.Nil(t, lc.ID)
	assert.Nil(t, lc.Slug)
}

func TestBuildReferers(t *testing.T) {
	target := "https://www.etsy.com/listing/945529830/personalized-leather-journal-notebook"
	refs := BuildReferers(target, ExtractListingContext(target), config.DefaultEtsy())

	assert.Equal(t, []string{
		"https://www.etsy.com/",
		"https://www.etsy.com/listing/945529830",
		"https://www.etsy.com/search?q=personalized%20leather%20journal%20notebook",
		"https://www.etsy.com/featured/best-sellers",
	}, refs)
}

func TestBuildReferersWithoutSlug(t *testing.T) {
	target := "https://www.etsy.com/listing/945529830"
	refs := BuildReferers(target, ExtractListingContext(target), config.DefaultEtsy())

	assert.Equal(t, []string{
		"https://www.etsy.com/",
		"https://www.etsy.com/listing/945529830",
		"https://www.etsy.com/featured/best-sellers",
	}, refs)
}
