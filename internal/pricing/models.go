package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Credits is the billing unit expressed in hundredths of a credit.
// "1.20" credits is Credits(120). All billing math stays in integers so the live
// projection and the settled charge are computed identically.
type Credits int64

// CreditScale is the number of Credits in one whole credit.
const CreditScale = 100

// maxWholeCredits keeps whole*CreditScale+99 inside int64.
const maxWholeCredits = (math.MaxInt64 - (CreditScale - 1)) / CreditScale

var ErrInvalidCredits = errors.New("pricing: invalid credits")

// ParseCredits parses "2", "2.4", "2.40" or "2,40" into Credits.
func ParseCredits(s string) (Credits, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidCredits
	}
	s = strings.ReplaceAll(s, ",", ".")

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, ErrInvalidCredits
	}

	var whole, frac int64
	seenDot := false
	fracDigits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			if seenDot {
				return 0, fmt.Errorf("%w: %q", ErrInvalidCredits, s)
			}
			seenDot = true
			continue
		}
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCredits, s)
		}
		d := int64(c - '0')
		if !seenDot {
			whole = whole*10 + d
			if whole > maxWholeCredits {
				return 0, fmt.Errorf("%w: %q out of range", ErrInvalidCredits, s)
			}
			continue
		}
		if fracDigits == 2 {
			return 0, fmt.Errorf("%w: more than two decimals in %q", ErrInvalidCredits, s)
		}
		frac = frac*10 + d
		fracDigits++
	}
	if fracDigits == 1 {
		frac *= 10
	}

	v := Credits(whole*CreditScale + frac)
	if neg {
		v = -v
	}
	return v, nil
}

// MustCredits is ParseCredits for package-level tables; it panics on bad input.
func MustCredits(s string) Credits {
	c, err := ParseCredits(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Credits) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/CreditScale, v%CreditScale)
}

// MarshalText renders credits as a decimal string ("2.40") in JSON and YAML.
func (c Credits) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Credits) UnmarshalText(b []byte) error {
	v, err := ParseCredits(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RateEntry maps a country calling-code prefix to a per-minute rate.
type RateEntry struct {
	// Prefix is the calling code without "+", e.g. "44" or "1876".
	Prefix  string  `json:"prefix" yaml:"prefix"`
	Country string  `json:"country,omitempty" yaml:"country"`
	Rate    Credits `json:"rate" yaml:"rate"`
}

// Quote is a priced estimate for a destination and a duration.
type Quote struct {
	Destination     string  `json:"destination"`
	Prefix          string  `json:"prefix,omitempty"`
	Country         string  `json:"country,omitempty"`
	RatePerMinute   Credits `json:"rate_per_minute"`
	DurationSeconds int64   `json:"duration_seconds"`
	BilledMinutes   int64   `json:"billed_minutes"`
	Cost            Credits `json:"cost"`
}
