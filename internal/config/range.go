package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseRange parses a phase-range specifier into a sorted, duplicate-free
// list of phase numbers (kept as strings so decimals round-trip).
//
// Grammar: "N" | "N-M" | comma-separated mix of both. Decimal numbers are
// permitted for single entries only; range endpoints must be integers with
// start <= end. Rejects empty specifiers, non-numeric entries, inverted
// ranges ("5-3"), and malformed ranges ("1-2-3").
func ParseRange(spec string) ([]string, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty phase range")
	}

	var values []float64
	byValue := map[float64]string{}

	add := func(num string) error {
		v, err := strconv.ParseFloat(num, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid phase number %q", num)
		}
		// Dedupe numerically so "3" and "3.0" collapse to one entry.
		if _, dup := byValue[v]; !dup {
			values = append(values, v)
			byValue[v] = num
		}
		return nil
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty entry in phase range %q", spec)
		}

		if !strings.Contains(part, "-") {
			if err := add(part); err != nil {
				return nil, err
			}
			continue
		}

		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("malformed range %q (expected N-M)", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid range start %q", bounds[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid range end %q", bounds[1])
		}
		if start > end {
			return nil, fmt.Errorf("inverted range %q (start is after end)", part)
		}
		for n := start; n <= end; n++ {
			if err := add(strconv.Itoa(n)); err != nil {
				return nil, err
			}
		}
	}

	sort.Float64s(values)
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, byValue[v])
	}
	return out, nil
}

// RangeContains reports whether the parsed range includes the given phase
// number, comparing numerically so "3" and "3.0" do not diverge from their
// string forms accidentally.
func RangeContains(parsed []string, number string) bool {
	target, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return false
	}
	for _, p := range parsed {
		v, err := strconv.ParseFloat(p, 64)
		if err == nil && v == target {
			return true
		}
	}
	return false
}
