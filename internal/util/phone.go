package util

import (
	"regexp"
	"strings"
)

var phoneJunk = regexp.MustCompile(`[^\d+]+`)

// NormalizePhone turns user input into E.164, assuming North American
// numbers when no country code is given. Input that does not look like a
// phone number normalizes to "".
func NormalizePhone(raw string) string {
	s := phoneJunk.ReplaceAllString(strings.TrimSpace(raw), "")

	switch {
	case strings.HasPrefix(s, "+"):
		s = "+" + strings.ReplaceAll(s[1:], "+", "")
	case strings.HasPrefix(s, "00"):
		s = "+" + s[2:]
	case len(s) == 10:
		s = "+1" + s
	case len(s) == 11 && strings.HasPrefix(s, "1"):
		s = "+" + s
	default:
		s = strings.ReplaceAll(s, "+", "")
		if s != "" {
			s = "+" + s
		}
	}

	if len(s) < 8 {
		return ""
	}

	return s
}
