package htmlparse

import (
	"net/http"
	"strings"
)

var defaultBlockSignatures = []string{
	"captcha-delivery.com",
	"px-captcha",
	"g-recaptcha",
	"h-captcha",
	"verify you are a human",
	"are you a robot",
	"request unsuccessful. incapsula",
	"incapsula incident id",
	"access denied",
	"this request was blocked",
	"pardon our interruption",
	"attention required! | cloudflare",
	"cf-chl-bypass",
	"/errors/validatecaptcha",
}

// BlockDetector recognizes anti-bot interstitials by status and body text.
type BlockDetector struct {
	signatures []string
}

func NewBlockDetector(extra ...string) *BlockDetector {
	sigs := append([]string{}, defaultBlockSignatures...)
	for _, s := range extra {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			sigs = append(sigs, s)
		}
	}
	return &BlockDetector{signatures: sigs}
}

// Detect returns the matched signature (or status) when the response looks
// like a block page.
func (d *BlockDetector) Detect(status int, body string) (string, bool) {
	if status == http.StatusForbidden {
		return "status 403", true
	}
	lower := strings.ToLower(body)
	for _, sig := range d.signatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}
