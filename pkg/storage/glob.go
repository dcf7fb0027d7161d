package storage

import "strings"

// GlobPrefix returns the literal part of a pattern before its first wildcard
// ("objects/ny--*" -> "objects/ny--")
func GlobPrefix(pattern string) string {
	if idx := strings.Index(pattern, "*"); idx >= 0 {
		return pattern[:idx]
	}
	return pattern
}

// MatchGlob matches a key against a pattern with at most one "*", which
// also spans "/" so prefix patterns select nested keys
func MatchGlob(key, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(key, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	if idx := strings.Index(pattern, "*"); idx >= 0 {
		prefix, suffix := pattern[:idx], pattern[idx+1:]
		return len(key) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(key, prefix) &&
			strings.HasSuffix(key, suffix)
	}
	return key == pattern
}
