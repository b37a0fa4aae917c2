package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"listingsync/models"
)

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, "leather journal", NormalizeTag("  #Leather   Journal, "))
	assert.Equal(t, "gift", NormalizeTag("GIFT"))
	assert.Equal(t, "", NormalizeTag("  "))
}

func TestFingerprintIgnoresTagOrderAndCase(t *testing.T) {
	price := 24.5
	a := &models.CatalogListing{Title: "Journal", PriceAmount: &price, Tags: []string{"Gift", "leather"}}
	b := &models.CatalogListing{Title: "Journal", PriceAmount: &price, Tags: []string{"leather", "gift"}}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintChangesWithPrice(t *testing.T) {
	p1, p2 := 10.0, 11.0
	a := &models.CatalogListing{Title: "Journal", PriceAmount: &p1}
	b := &models.CatalogListing{Title: "Journal", PriceAmount: &p2}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))

	c := &models.CatalogListing{Title: "Journal"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}
