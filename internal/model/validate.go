package model

import (
	"regexp"
	"strings"
)

var rePhone = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidPhone reports whether s is an E.164 number.
func ValidPhone(s string) bool { return rePhone.MatchString(s) }

// ValidEmail is a plausibility check: one '@' with a non-empty local part and
// a domain holding a '.' that is neither first nor last.
func ValidEmail(s string) bool {
	if s != strings.TrimSpace(s) || strings.ContainsAny(s, " \t\r\n<>") {
		return false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 || at != strings.Index(s, "@") {
		return false
	}
	domain := s[at+1:]
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1 && !strings.Contains(domain, "..")
}

// MaskPhone keeps the country prefix and the last three digits.
func MaskPhone(s string) string {
	if len(s) <= 7 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-7) + s[len(s)-3:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(s string) string {
	at := strings.Index(s, "@")
	if at <= 0 {
		return "***"
	}
	return s[:1] + "***" + s[at:]
}

// MaskTarget masks a channel target for logs.
func MaskTarget(ch Channel, target string) string {
	if ch == ChannelEmail {
		return MaskEmail(target)
	}
	return MaskPhone(target)
}
