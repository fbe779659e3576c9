package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidRateTable = errors.New("pricing: invalid rate table")

const maxPrefixLen = 6

// RateTable resolves a destination to a per-minute rate by the longest matching
// calling-code prefix. Unknown destinations get the default rate.
//
// A RateTable is immutable after construction and safe for concurrent use.
type RateTable struct {
	def      Credits
	byPrefix map[string]RateEntry
	maxLen   int
	entries  []RateEntry
}

func NewRateTable(def Credits, entries []RateEntry) (*RateTable, error) {
	var errs []error
	if def <= 0 {
		errs = append(errs, fmt.Errorf("default rate must be positive, got %s", def))
	}

	t := &RateTable{def: def, byPrefix: make(map[string]RateEntry, len(entries))}
	for _, e := range entries {
		p := strings.TrimPrefix(strings.TrimSpace(e.Prefix), "+")
		if p == "" || len(p) > maxPrefixLen || !allDigits(p) {
			errs = append(errs, fmt.Errorf("prefix %q must be 1-%d digits", e.Prefix, maxPrefixLen))
			continue
		}
		if e.Rate <= 0 {
			errs = append(errs, fmt.Errorf("rate for prefix %s must be positive, got %s", p, e.Rate))
			continue
		}
		if _, dup := t.byPrefix[p]; dup {
			errs = append(errs, fmt.Errorf("duplicate prefix %s", p))
			continue
		}
		e.Prefix = p
		t.byPrefix[p] = e
		t.entries = append(t.entries, e)
		if len(p) > t.maxLen {
			t.maxLen = len(p)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRateTable, errors.Join(errs...))
	}

	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].Prefix < t.entries[j].Prefix })
	return t, nil
}

// Lookup returns the entry for the longest known prefix of destination.
func (t *RateTable) Lookup(destination string) (RateEntry, bool) {
	digits := dialDigits(destination)
	n := t.maxLen
	if len(digits) < n {
		n = len(digits)
	}
	for ; n > 0; n-- {
		if e, ok := t.byPrefix[digits[:n]]; ok {
			return e, true
		}
	}
	return RateEntry{}, false
}

// RateFor never fails: unrecognized destinations fall through to the default rate.
func (t *RateTable) RateFor(destination string) Credits {
	if e, ok := t.Lookup(destination); ok {
		return e.Rate
	}
	return t.def
}

func (t *RateTable) Default() Credits { return t.def }

// Entries returns the configured rows sorted by prefix.
func (t *RateTable) Entries() []RateEntry {
	out := make([]RateEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Quote prices a call of durationSeconds to destination at the current table.
func (t *RateTable) Quote(destination string, durationSeconds int64) (Quote, error) {
	q := Quote{Destination: destination, DurationSeconds: durationSeconds}
	if e, ok := t.Lookup(destination); ok {
		q.Prefix, q.Country, q.RatePerMinute = e.Prefix, e.Country, e.Rate
	} else {
		q.RatePerMinute = t.def
	}
	cost, err := BilledCost(durationSeconds, q.RatePerMinute)
	if err != nil {
		return Quote{}, err
	}
	q.BilledMinutes = BilledMinutes(durationSeconds)
	q.Cost = cost
	return q, nil
}

// DefaultRates is the built-in table used when no rate file is configured.
func DefaultRates() []RateEntry {
	return []RateEntry{
		{Prefix: "1", Country: "US", Rate: MustCredits("0.50")},
		{Prefix: "1876", Country: "JM", Rate: MustCredits("2.50")},
		{Prefix: "33", Country: "FR", Rate: MustCredits("1.30")},
		{Prefix: "34", Country: "ES", Rate: MustCredits("1.30")},
		{Prefix: "44", Country: "GB", Rate: MustCredits("1.20")},
		{Prefix: "49", Country: "DE", Rate: MustCredits("1.30")},
		{Prefix: "52", Country: "MX", Rate: MustCredits("1.10")},
		{Prefix: "61", Country: "AU", Rate: MustCredits("1.50")},
		{Prefix: "63", Country: "PH", Rate: MustCredits("1.80")},
		{Prefix: "81", Country: "JP", Rate: MustCredits("1.50")},
		{Prefix: "86", Country: "CN", Rate: MustCredits("1.00")},
		{Prefix: "91", Country: "IN", Rate: MustCredits("0.80")},
		{Prefix: "234", Country: "NG", Rate: MustCredits("2.00")},
		{Prefix: "254", Country: "KE", Rate: MustCredits("1.90")},
		{Prefix: "880", Country: "BD", Rate: MustCredits("1.40")},
	}
}

// DefaultRate is applied to prefixes missing from the table.
var DefaultRate = MustCredits("2.00")

// dialDigits keeps only digits and drops an international "00" access code.
func dialDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	d := b.String()
	if !strings.HasPrefix(strings.TrimSpace(s), "+") && strings.HasPrefix(d, "00") {
		d = d[2:]
	}
	return d
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
