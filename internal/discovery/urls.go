package discovery

import (
	"net/url"
	"regexp"
	"strings"
)

// menuProductPath matches /menu/<category>/<slug>.
var menuProductPath = regexp.MustCompile(`/menu/.+/[^/]+$`)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// Normalize resolves raw against base and returns its canonical form:
// lowercase scheme and host, no default port, no fragment and no query.
// base may be empty when raw is absolute. ok is false for anything that is
// not an http(s) URL.
func Normalize(raw, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	lower := strings.ToLower(raw)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", false
		}
		ref = b.ResolveReference(ref)
	}

	ref.Scheme = strings.ToLower(ref.Scheme)
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	ref.Host = strings.ToLower(ref.Host)
	if ref.Scheme == "http" {
		ref.Host = strings.TrimSuffix(ref.Host, ":80")
	}
	if ref.Scheme == "https" {
		ref.Host = strings.TrimSuffix(ref.Host, ":443")
	}
	if ref.Host == "" {
		return "", false
	}
	ref.User = nil
	ref.Fragment = ""
	ref.RawFragment = ""
	ref.RawQuery = ""
	ref.ForceQuery = false
	ref.Opaque = ""
	if ref.Path == "" {
		ref.Path = "/"
		ref.RawPath = ""
	}
	return ref.String(), true
}

// IsProductURL applies the product-page heuristic to an absolute URL.
// menuBase may be empty.
func IsProductURL(rawURL, menuBase string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := u.Path
	if strings.Contains(p, "/product/") || strings.Contains(p, "/products/") || strings.Contains(p, "/item/") {
		return true
	}
	if menuProductPath.MatchString(p) {
		return true
	}
	if menuBase == "" || !UnderBase(rawURL, menuBase) {
		return false
	}
	b, err := url.Parse(menuBase)
	if err != nil {
		return false
	}
	rest := strings.TrimPrefix(strings.TrimSuffix(p, "/"), strings.TrimSuffix(b.Path, "/"))
	return len(segments(rest)) >= 2
}

// UnderBase reports whether rawURL is on base's host and at or below base's path.
func UnderBase(rawURL, base string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, b.Scheme) || !sameHost(u, b) {
		return false
	}
	basePath := strings.TrimSuffix(b.Path, "/")
	if basePath == "" {
		return true
	}
	return u.Path == basePath || strings.HasPrefix(u.Path, basePath+"/")
}

func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname()) && a.Port() == b.Port()
}

func sameHostString(rawURL, base string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	return sameHost(u, b)
}

func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// urlSet is an insertion-ordered set of URLs.
type urlSet struct {
	seen  map[string]struct{}
	items []string
}

func newURLSet() *urlSet {
	return &urlSet{seen: make(map[string]struct{})}
}

func (s *urlSet) add(u string) bool {
	if _, ok := s.seen[u]; ok {
		return false
	}
	s.seen[u] = struct{}{}
	s.items = append(s.items, u)
	return true
}

func (s *urlSet) has(u string) bool {
	_, ok := s.seen[u]
	return ok
}

func (s *urlSet) len() int { return len(s.items) }
