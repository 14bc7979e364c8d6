package extract

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	hexIDSuffix     = regexp.MustCompile(`(?i)/([a-f0-9]{24})/?$`)
	numericIDSuffix = regexp.MustCompile(`/(\d+)/?$`)
	priceNumber     = regexp.MustCompile(`\d(?:[\d.,]*\d)?`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// RemoteID derives the remote product identifier from a URL: a trailing
// 24-hex segment, else a trailing numeric segment, else an id query parameter.
func RemoteID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if m := hexIDSuffix.FindStringSubmatch(u.Path); m != nil {
		return strings.ToLower(m[1])
	}
	if m := numericIDSuffix.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return cleanText(u.Query().Get("id"))
}

// clean sanitizes every field a strategy produced.
func clean(f Fields, sourceURL string) Fields {
	return Fields{
		Name:        cleanText(f.Name),
		Brand:       cleanText(f.Brand),
		Category:    cleanText(f.Category),
		Description: cleanText(f.Description),
		Price:       cleanPrice(f.Price),
		THC:         cleanPotency(f.THC),
		CBD:         cleanPotency(f.CBD),
		ImageURL:    cleanURL(f.ImageURL, sourceURL),
		Effects:     cleanList(f.Effects),
		Flavors:     cleanList(f.Flavors),
		Tags:        cleanList(f.Tags),
		InStock:     f.InStock,
	}
}

// cleanText strips markup, decodes entities and collapses whitespace.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style, noscript").Remove()
			s = doc.Text()
		}
	} else {
		s = html.UnescapeString(s)
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// cleanPrice keeps the first number as a plain decimal string. The decimal
// mark is inferred from the separators; ambiguous formats yield "".
func cleanPrice(s string) string {
	m := priceNumber.FindString(cleanText(s))
	lastComma, lastDot := strings.LastIndex(m, ","), strings.LastIndex(m, ".")
	switch {
	case lastComma < 0 && lastDot < 0:
		return m
	case lastComma >= 0 && lastDot >= 0:
		// Both present: the later one is the decimal mark.
		decimal, group := ".", ","
		if lastComma > lastDot {
			decimal, group = ",", "."
		}
		idx := strings.LastIndex(m, decimal)
		whole, frac := m[:idx], m[idx+1:]
		if strings.Contains(frac, group) || !thousandsGrouped(whole, group) {
			return ""
		}
		return strings.ReplaceAll(whole, group, "") + "." + frac
	default:
		sep := ","
		if lastDot >= 0 {
			sep = "."
		}
		parts := strings.Split(m, sep)
		if len(parts) == 2 && sep == "." {
			return m
		}
		if len(parts) == 2 && len(parts[1]) == 2 {
			return parts[0] + "." + parts[1]
		}
		if thousandsGrouped(m, sep) {
			return strings.ReplaceAll(m, sep, "")
		}
		return ""
	}
}

// thousandsGrouped reports whether s is digits split by sep into groups of three.
func thousandsGrouped(s, sep string) bool {
	parts := strings.Split(s, sep)
	if len(parts[0]) == 0 || len(parts[0]) > 3 {
		return len(parts) == 1 && parts[0] != ""
	}
	for _, part := range parts[1:] {
		if len(part) != 3 {
			return false
		}
	}
	return true
}

func cleanPotency(s string) string {
	s = cleanText(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	return s
}

// cleanURL resolves ref against base and keeps only http(s) URLs.
func cleanURL(ref, base string) string {
	ref = strings.TrimSpace(html.UnescapeString(ref))
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil && !u.IsAbs() {
		u = b.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

// cleanList sanitizes and deduplicates entries case-insensitively, keeping first spelling.
func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = cleanText(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitList splits a comma separated string into trimmed entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
