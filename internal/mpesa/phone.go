package mpesa

import (
	"regexp"
	"strings"
)

var msisdn = regexp.MustCompile(`^254[17][0-9]{8}$`)

// NormalizePhone converts local (07XXXXXXXX), bare (7XXXXXXXX) and
// international (+2547XXXXXXXX) forms into 2547XXXXXXXX. Applying it to its
// own output is a no-op.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = "254" + digits[1:]
	case len(digits) == 9:
		digits = "254" + digits
	}

	if !msisdn.MatchString(digits) {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
