package adif

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidCallsign rejects registration input that fails the strict check.
var ErrInvalidCallsign = errors.New("invalid callsign")

// falsePositives are tokens that can satisfy the loose shape checks without
// identifying a station: logging keywords and mode names seen in UDP traffic.
var falsePositives = map[string]struct{}{
	"TEST": {}, "QSO": {}, "LOG": {}, "ADIF": {}, "CALL": {}, "GRID": {},
	"FT8": {}, "FT4": {}, "JT9": {}, "JT65": {}, "Q65": {}, "JS8": {},
	"MSK144": {}, "FST4": {}, "FST4W": {}, "PSK31": {}, "RTTY45": {},
	"SSB": {}, "USB": {}, "LSB": {}, "CW": {}, "FM": {}, "AM": {},
	"RTTY": {}, "DATA": {}, "DIGI": {},
}

// registrationRe is the user-facing callsign shape: optional portable
// prefix, 1-3 character prefix, area digit, 1-4 letter suffix, optional
// portable suffix.
var registrationRe = regexp.MustCompile(`^(?:[A-Z0-9]{1,3}/)?[A-Z0-9]{1,3}[0-9][A-Z]{1,4}(?:/[A-Z0-9]{1,4})?$`)

// Normalize uppercases and trims a callsign for storage and comparison.
func Normalize(callsign string) string {
	return strings.ToUpper(strings.TrimSpace(callsign))
}

// ValidCallsign reports whether s plausibly identifies a station. The check
// is deliberately loose: it keeps garbage out of parsed packets but does not
// enforce ITU format. Registration input goes through ValidateRegistration.
func ValidCallsign(s string) bool {
	if len(s) < 3 || len(s) > 10 {
		return false
	}
	var hasDigit, hasLetter bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			hasLetter = true
		case r == '/':
		default:
			return false
		}
	}
	if !hasDigit || !hasLetter {
		return false
	}
	_, bad := falsePositives[strings.ToUpper(s)]
	return !bad
}

// ValidateRegistration applies the strict check used when a caller joins the
// queue. The callsign must already be normalized.
func ValidateRegistration(callsign string) error {
	if !registrationRe.MatchString(callsign) {
		return ErrInvalidCallsign
	}
	if !ValidCallsign(callsign) {
		return ErrInvalidCallsign
	}
	return nil
}
