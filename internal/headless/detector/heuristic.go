// Package detector decides when a page needs a browser to be captured faithfully.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultBodyLengthThreshold = 2048
	defaultMinText             = 200
)

// Heuristic implements a handful of rule-based checks over the raw HTML.
type Heuristic struct {
	BodyLengthThreshold int
	// MinText is the visible text length below which a script-bearing page is
	// considered empty until rendered.
	MinText  int
	keywords [][]byte
}

// NewHeuristic creates a new detector. Extra keywords are matched
// case-insensitively and promote the page when present.
func NewHeuristic(threshold int, keywords ...string) *Heuristic {
	if threshold == 0 {
		threshold = defaultBodyLengthThreshold
	}
	lower := make([][]byte, 0, len(keywords)+len(defaultKeywords))
	for _, kw := range append(append([]string(nil), defaultKeywords...), keywords...) {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower = append(lower, bytes.ToLower([]byte(kw)))
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinText: defaultMinText, keywords: lower}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("ng-version"),
}

var defaultKeywords = []string{
	"enable javascript",
	"requires javascript",
}

// NeedsJS reports whether body looks like a page that only fills in once its
// scripts run.
func (h *Heuristic) NeedsJS(body []byte) bool {
	if h == nil {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	if h.containsKeywords(body) {
		return true
	}
	return h.textMissing(body)
}

func (h *Heuristic) containsKeywords(body []byte) bool {
	if len(h.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range h.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (h *Heuristic) textMissing(body []byte) bool {
	if h.MinText <= 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	if doc.Find("script").Length() == 0 {
		return false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return len(text) < h.MinText
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
