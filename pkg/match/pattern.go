package match

import (
	"strings"
	"unicode/utf8"
)

// NormalizePattern rewrites unescaped backslashes as '/'. A backslash in
// front of a glob metacharacter or another backslash is an escape and is
// kept verbatim.
//
//	`data\2024\a.csv`  → `data/2024/a.csv`
//	`data/file\*.txt`  → `data/file\*.txt`
func NormalizePattern(pattern string) string {
	if !strings.ContainsRune(pattern, '\\') {
		return pattern
	}

	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(pattern) && isEscapable(pattern[i+1]) {
			b.WriteByte('\\')
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		b.WriteByte('/')
	}
	return b.String()
}

// DerivePrefix returns the static part of a pattern, cut back to the last
// complete path segment, with escapes removed. A pattern without
// metacharacters is its own prefix.
//
//	"logs/2024/**/*.gz" → "logs/2024/"
//	"*.json"            → ""
//	"logs/app-{a,b}/*"  → "logs/"
//	`data/file\*.txt`   → "data/file*.txt"
func DerivePrefix(pattern string) string {
	pattern = NormalizePattern(pattern)

	meta := firstMeta(pattern)
	if meta == -1 {
		return unescape(pattern)
	}
	cut := strings.LastIndexByte(pattern[:meta], '/')
	if cut < 0 {
		return ""
	}
	return unescape(pattern[:cut+1])
}

// IsGlobPattern reports whether pattern has an unescaped metacharacter.
func IsGlobPattern(pattern string) bool {
	return firstMeta(pattern) != -1
}

// IsHidden reports whether any '/'-separated segment of key starts with '.'.
func IsHidden(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func isEscapable(c byte) bool {
	return strings.IndexByte(`*?[]{}\`, c) >= 0
}

func firstMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 < len(pattern) && isEscapable(pattern[i+1]) {
				i++
			}
		case '*', '?', '[', '{':
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && isEscapable(s[i+1]) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// commonPrefix returns the longest string every element starts with.
func commonPrefix(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	prefix := ss[0]
	for _, s := range ss[1:] {
		for !strings.HasPrefix(s, prefix) {
			_, size := utf8.DecodeLastRuneInString(prefix)
			prefix = prefix[:len(prefix)-size]
		}
	}
	return prefix
}
