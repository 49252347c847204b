// Package symbols loads ticker lists and narrows them with glob patterns.
package symbols

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// LoadCSV reads the first column ("symbol") from a CSV file with a header
// row. Symbols are upper-cased and deduplicated in file order.
func LoadCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(records)-1)
	out := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) == 0 {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(row[0]))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out, nil
}

// ValidatePatterns reports the first malformed glob pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(strings.ToUpper(p)) {
			return fmt.Errorf("invalid symbol pattern %q", p)
		}
	}
	return nil
}

// Filter keeps the symbols matching any include pattern (all of them when
// include is empty) and no exclude pattern. Patterns use doublestar glob
// syntax and match case-insensitively, e.g. "A*", "{AAPL,MSFT}", "??".
// The result is sorted.
func Filter(all, include, exclude []string) ([]string, error) {
	if err := ValidatePatterns(include); err != nil {
		return nil, err
	}
	if err := ValidatePatterns(exclude); err != nil {
		return nil, err
	}

	var out []string
	for _, sym := range all {
		sym = strings.ToUpper(sym)
		if len(include) > 0 && !matchAny(include, sym) {
			continue
		}
		if matchAny(exclude, sym) {
			continue
		}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func matchAny(patterns []string, sym string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(strings.ToUpper(p), sym); ok {
			return true
		}
	}
	return false
}
