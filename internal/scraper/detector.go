package scraper

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBlockKeywords are phrases served by common bot-protection pages.
var DefaultBlockKeywords = []string{
	"just a moment...",
	"attention required",
	"verify you are human",
	"are you a robot",
	"access denied",
	"unusual traffic",
	"enable javascript and cookies to continue",
}

// DefaultBlockSelectors match challenge widgets.
var DefaultBlockSelectors = []string{
	"#challenge-form",
	"#cf-challenge-running",
	"iframe[src*='captcha']",
	"div.g-recaptcha",
	"div.h-captcha",
}

// BlockDetector flags pages that look like anti-bot interstitials.
type BlockDetector struct {
	statuses  map[int]struct{}
	selectors []string
	keywords  [][]byte
}

// NewBlockDetector constructs a detector. Empty selector or keyword lists
// fall back to the defaults.
func NewBlockDetector(selectors, keywords []string) *BlockDetector {
	if len(selectors) == 0 {
		selectors = DefaultBlockSelectors
	}
	if len(keywords) == 0 {
		keywords = DefaultBlockKeywords
	}
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &BlockDetector{
		statuses: map[int]struct{}{
			http.StatusForbidden:          {},
			http.StatusTooManyRequests:    {},
			http.StatusServiceUnavailable: {},
		},
		selectors: selectors,
		keywords:  lowerKeywords,
	}
}

// Blocked reports whether any document in page looks blocked.
func (d *BlockDetector) Blocked(page Page) bool {
	for _, doc := range page.Documents {
		if d.DocumentBlocked(doc) {
			return true
		}
	}
	return false
}

// DocumentBlocked inspects one document.
func (d *BlockDetector) DocumentBlocked(doc Document) bool {
	if d == nil {
		return false
	}
	if _, ok := d.statuses[doc.StatusCode]; ok {
		return true
	}
	switch {
	case d.containsKeywords(doc.Body):
		return true
	default:
		return d.hasChallengeMarkup(doc.Body)
	}
}

func (d *BlockDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *BlockDetector) hasChallengeMarkup(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 || !looksLikeHTML(body) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<"))
}
