package sigv4

import (
	"net/http"
	"sort"
	"strings"
)

// buildCanonicalRequest assembles the canonical request string.
func buildCanonicalRequest(method, path string, query map[string][]string, canonicalHeaders, signedHeaders, payloadHash string) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		CanonicalURI(path),
		CanonicalQuery(query),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
}

// CanonicalURI encodes each path segment, keeping the separating slashes.
// S3 paths are encoded once; an empty path canonicalizes to "/".
func CanonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = URIEncode(seg)
	}
	out := strings.Join(segments, "/")
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// CanonicalQuery encodes and sorts query parameters by key, then value.
// Parameters without a value render as "key=".
func CanonicalQuery(query map[string][]string) string {
	if len(query) == 0 {
		return ""
	}

	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(query))
	for key, values := range query {
		ek := URIEncode(key)
		if len(values) == 0 {
			pairs = append(pairs, pair{key: ek})
			continue
		}
		for _, v := range values {
			pairs = append(pairs, pair{key: ek, value: URIEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// buildCanonicalHeaders returns the canonical header block (each line
// newline-terminated) and the semicolon-separated signed header list.
func buildCanonicalHeaders(headers http.Header) (string, string) {
	names := make([]string, 0, len(headers))
	values := make(map[string][]string, len(headers))
	for name, vals := range headers {
		lower := strings.ToLower(name)
		if lower == "authorization" {
			continue
		}
		if _, seen := values[lower]; !seen {
			names = append(names, lower)
		}
		values[lower] = append(values[lower], vals...)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		trimmed := make([]string, len(values[name]))
		for i, v := range values[name] {
			trimmed[i] = trimHeaderValue(v)
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(trimmed, ","))
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

// trimHeaderValue trims surrounding space and collapses inner runs of spaces.
func trimHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// URIEncode percent-encodes every byte outside the RFC 3986 unreserved set,
// using upper-case hex.
func URIEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}
