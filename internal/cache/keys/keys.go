// Package keys builds cache and history keys. Entity ids come from external
// reference data and may contain arbitrary text, so ids are sanitized for the
// keyspace and disambiguated with a hash of the original when the
// sanitization was lossy.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Snapshot returns the cache key for an entity's latest snapshot.
func Snapshot(domain, entityID string) string {
	return fmt.Sprintf("snap:%s:%s", sanitize(domain), idPart(entityID))
}

// History returns the history series key for an entity.
func History(domain, entityID string) string {
	return fmt.Sprintf("hist:%s:%s", sanitize(domain), idPart(entityID))
}

func idPart(id string) string {
	safe := sanitize(id)
	if safe == id {
		return safe
	}
	return fmt.Sprintf("%s:x=%016x", safe, xxhash.Sum64String(id))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
