package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rateFile is the on-disk YAML shape:
//
//	default: "2.00"
//	rates:
//	  - prefix: "44"
//	    country: GB
//	    rate: "1.20"
type rateFile struct {
	Default string `yaml:"default"`
	Rates   []struct {
		Prefix  string `yaml:"prefix"`
		Country string `yaml:"country"`
		Rate    string `yaml:"rate"`
	} `yaml:"rates"`
}

// LoadRateFile reads and validates a YAML rate table.
func LoadRateFile(path string, fallbackDefault Credits) (*RateTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate file: %w", err)
	}
	return ParseRateFile(raw, fallbackDefault)
}

// ParseRateFile decodes a YAML rate table. fallbackDefault is used when the file
// omits "default".
func ParseRateFile(raw []byte, fallbackDefault Credits) (*RateTable, error) {
	var f rateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal rate file: %w", err)
	}

	def := fallbackDefault
	if f.Default != "" {
		d, err := ParseCredits(f.Default)
		if err != nil {
			return nil, fmt.Errorf("rate file default: %w", err)
		}
		def = d
	}

	entries := make([]RateEntry, 0, len(f.Rates))
	for i, r := range f.Rates {
		rate, err := ParseCredits(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate file row %d (%s): %w", i, r.Prefix, err)
		}
		entries = append(entries, RateEntry{Prefix: r.Prefix, Country: r.Country, Rate: rate})
	}
	return NewRateTable(def, entries)
}
