package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"listingsync/models"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	tagTrimRegex    = regexp.MustCompile(`^[#\s"'.,;]+|[\s"'.,;]+$`)
)

// Fingerprint hashes the content columns of a catalog listing. Two rows with
// the same fingerprint differ only in bookkeeping columns.
func Fingerprint(l *models.CatalogListing) string {
	tags := make([]string, 0, len(l.Tags))
	for _, t := range l.Tags {
		tags = append(tags, NormalizeTag(t))
	}
	sort.Strings(tags)

	materials := append([]string{}, l.Materials...)
	sort.Strings(materials)

	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		strings.TrimSpace(l.Title),
		deref(l.Description),
		l.State,
		l.URL,
		floatField(l.PriceAmount),
		deref(l.PriceCurrency),
		intField(l.Quantity),
		strings.Join(materials, ","),
		int64Field(l.TaxonomyID),
		strings.Join(l.ImageURLs, ","),
		strings.Join(tags, ","),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeTag lower-cases a tag, strips surrounding punctuation and folds
// inner whitespace.
func NormalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = tagTrimRegex.ReplaceAllString(tag, "")
	tag = multiSpaceRegex.ReplaceAllString(tag, " ")
	return strings.TrimSpace(tag)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatField(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *f)
}

func intField(i *int) string {
	if i == nil {
		return ""
	}
	return fmt.Sprint(*i)
}

func int64Field(i *int64) string {
	if i == nil {
		return ""
	}
	return fmt.Sprint(*i)
}
