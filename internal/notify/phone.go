package notify

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone converts a user-entered number to E.164. Ten-digit national
// numbers get defaultCountryCode prepended; longer numbers are assumed to
// already carry a country code.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidPhone
	}

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	if strings.HasPrefix(raw, "+") {
		if len(d) < 8 || len(d) > 15 {
			return "", ErrInvalidPhone
		}
		return "+" + d, nil
	}

	// international dialing prefix
	d = strings.TrimPrefix(d, "00")

	switch {
	case len(d) == 10:
		cc := strings.TrimPrefix(defaultCountryCode, "+")
		return "+" + cc + d, nil
	case len(d) > 10 && len(d) <= 15:
		return "+" + d, nil
	}
	return "", ErrInvalidPhone
}
