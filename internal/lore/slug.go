package lore

import (
	"regexp"
	"strconv"
	"strings"
)

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a display name: lowercase, runs of
// non-alphanumerics collapsed to single hyphens, leading/trailing hyphens
// trimmed. An empty result falls back to "entry".
func Slugify(name string) string {
	slug := nonSlugRe.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "entry"
	}
	return slug
}

// suffixedSlug returns the nth candidate for a colliding base slug.
// n=1 is the bare base; collisions take -2, -3, … in order.
func suffixedSlug(base string, n int) string {
	if n <= 1 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}
