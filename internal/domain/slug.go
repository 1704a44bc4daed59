package domain

import "regexp"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidSlug reports whether s is lowercase letters and digits separated by
// single hyphens.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}
