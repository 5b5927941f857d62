package entities

import (
	"regexp"
	"strings"
)

// E.164: + followed by 7-15 digits, no leading zero
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// ValidE164 reports whether a phone number is in E.164 format
func ValidE164(phoneNumber string) bool {
	return e164Pattern.MatchString(phoneNumber)
}

// ComposeNumber joins a country code and a national number, stripping
// anything that is not a digit from the national part. The result is
// not guaranteed valid; callers still run it through ValidE164.
func ComposeNumber(countryCode, national string) string {
	var digits strings.Builder
	for _, r := range national {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return countryCode + digits.String()
}
