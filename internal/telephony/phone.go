package telephony

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeE164 turns user input like "+44 (20) 1234-5678" or "0044 20 1234 5678"
// into "+442012345678". It requires a country code, either a leading "+" or
// an international "00" access code, and rejects unknown country codes and
// lengths the country's numbering plan does not allow.
func NormalizeE164(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidNumber
	}

	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == ' ' || c == '-' || c == '.' || c == '(' || c == ')':
		case c == '+' && i == 0:
		default:
			return "", fmt.Errorf("%w: unexpected %q", ErrInvalidNumber, c)
		}
	}
	digits := b.String()
	if !plus {
		if !strings.HasPrefix(digits, "00") {
			return "", fmt.Errorf("%w: country code required", ErrInvalidNumber)
		}
		digits = digits[2:]
	}

	num, err := phonenumbers.Parse("+"+digits, "")
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidNumber, raw, err)
	}
	if region := phonenumbers.GetRegionCodeForCountryCode(int(num.GetCountryCode())); region == "" || region == "ZZ" {
		return "", fmt.Errorf("%w: unknown country code in %q", ErrInvalidNumber, raw)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: wrong length for country in %q", ErrInvalidNumber, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
