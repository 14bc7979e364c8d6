package headless

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// Detector decides whether a static response needs a browser render.
type Detector struct {
	BodyLengthThreshold int
}

// NewDetector creates a Detector. A zero threshold defaults to 2048 bytes.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// NeedsRender reports whether resp looks like an unhydrated single-page app.
func (d *Detector) NeedsRender(resp catalog.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.Rendered {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < d.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover a quarter or more of the body.
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
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
