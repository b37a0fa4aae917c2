package htmlparse

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listingsync/identity"
)

var (
	breakTagRegex   = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</li>|</div>`)
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLines      = regexp.MustCompile(`\n\s*\n+`)
	anySpace        = regexp.MustCompile(`\s+`)
)

// StripHTML converts an HTML fragment to plain text, keeping line breaks.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>") {
		s = breakTagRegex.ReplaceAllString(s, "\n")
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + s + "</div>")); err == nil {
			s = doc.Text()
		}
	}
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// CollapseSpace trims and folds every whitespace run to one space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(anySpace.ReplaceAllString(html.UnescapeString(s), " "))
}

// Dedupe trims values and drops blanks and repeats, keeping first-seen order.
func Dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// NormalizeTags lower-cases and de-duplicates tags.
func NormalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		normalized = append(normalized, identity.NormalizeTag(t))
	}
	return Dedupe(normalized)
}

// AbsoluteURLs resolves refs against base and de-duplicates the result.
func AbsoluteURLs(base *url.URL, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if abs := AbsoluteURL(base, ref); abs != "" {
			out = append(out, abs)
		}
	}
	return Dedupe(out)
}

func AbsoluteURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
