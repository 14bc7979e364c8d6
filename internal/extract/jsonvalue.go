package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// decodeJSON decodes the first JSON value in s, keeping numbers as json.Number.
func decodeJSON(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// scalarString renders strings and numbers; anything else is empty.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// nameOf returns v when it is a scalar, or v["name"] when it is an object.
func nameOf(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return scalarString(t["name"])
	case []any:
		for _, item := range t {
			if s := nameOf(item); s != "" {
				return s
			}
		}
		return ""
	}
	return scalarString(v)
}

// stringList accepts a comma separated string, a list of scalars, or a list of named objects.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return splitList(t)
	case []any:
		var out []string
		for _, item := range t {
			if s := nameOf(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// joinedString joins a list value with ", ", or renders a scalar.
func joinedString(v any) string {
	if list, ok := v.([]any); ok {
		var parts []string
		for _, item := range list {
			if s := nameOf(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return nameOf(v)
}

// imageOf accepts a URL string, an ImageObject, or a list of either.
func imageOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"url", "contentUrl", "src"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
	case []any:
		for _, item := range t {
			if s := imageOf(item); s != "" {
				return s
			}
		}
	}
	return ""
}

// boolOf interprets booleans and common truthy strings.
func boolOf(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1", "in stock", "instock":
			return true, true
		case "false", "no", "0", "out of stock", "outofstock", "sold out":
			return false, true
		}
	case json.Number:
		n, err := t.Int64()
		if err == nil {
			return n != 0, true
		}
	}
	return false, false
}
