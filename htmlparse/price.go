package htmlparse

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// Grouping separators must be followed by exactly three digits, so a
	// trailing line such as "\n 3 left" never joins the amount.
	priceNumberRegex = regexp.MustCompile(`\d{1,3}(?:[., \x{00A0}\x{202F}]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)?`)
	isoCodeRegex     = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD|JPY|INR|CHF|SEK|NOK|DKK|NZD|MXN|BRL|PLN)\b`)

	currencySymbols = []struct {
		symbol string
		code   string
	}{
		{"CA$", "CAD"},
		{"C$", "CAD"},
		{"A$", "AUD"},
		{"AU$", "AUD"},
		{"NZ$", "NZD"},
		{"US$", "USD"},
		{"R$", "BRL"},
		{"$", "USD"},
		{"£", "GBP"},
		{"€", "EUR"},
		{"¥", "JPY"},
		{"₹", "INR"},
		{"zł", "PLN"},
	}
)

// ParsePrice extracts an amount and ISO-4217 currency from display text such
// as "$1,234.50", "1.234,50 €" or "GBP 12". Either result is nil when absent.
func ParsePrice(text string) (*float64, *string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var currency *string
	upper := strings.ToUpper(text)
	if m := isoCodeRegex.FindString(upper); m != "" {
		currency = &m
	} else {
		for _, cs := range currencySymbols {
			if strings.Contains(upper, strings.ToUpper(cs.symbol)) {
				code := cs.code
				currency = &code
				break
			}
		}
	}

	raw := strings.TrimSpace(priceNumberRegex.FindString(text))
	if raw == "" {
		return nil, currency
	}
	amount, ok := parseAmount(raw)
	if !ok {
		return nil, currency
	}
	return &amount, currency
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(raw)
	raw = strings.TrimRight(raw, ".,")

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	case lastComma >= 0:
		// "12,50" is a decimal comma, "1,250" a thousands separator.
		if len(raw)-lastComma-1 == 2 && strings.Count(raw, ",") == 1 {
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	case strings.Count(raw, ".") > 1:
		raw = strings.ReplaceAll(raw, ".", "")
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
