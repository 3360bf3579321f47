package common

import "strings"

// HasAnyPrefix returns true if s, ignoring leading whitespace, starts with
// any of the prefixes.
func HasAnyPrefix(s string, prefixes ...string) bool {
	s = strings.TrimLeft(s, " \t\r\n")
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
