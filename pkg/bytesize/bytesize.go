// Package bytesize parses and formats human-readable byte counts such as
// "512KB" or "1.5 MiB". Units are binary (1024) and case-insensitive; a
// bare number is a byte count.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Size is a byte count.
type Size int64

// Binary size units.
const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
)

var units = map[string]Size{
	"": B, "b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
}

// Parse parses s as a non-negative size.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	split := strings.IndexFunc(trimmed, func(r rune) bool {
		return r != '.' && !unicode.IsDigit(r)
	})
	number, unit := trimmed, ""
	if split >= 0 {
		number, unit = trimmed[:split], strings.TrimSpace(trimmed[split:])
	}
	if number == "" {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	multiplier, ok := units[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
	}

	if !strings.Contains(number, ".") {
		n, err := strconv.ParseInt(number, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bytesize: invalid number %q: %w", number, err)
		}
		return Size(n) * multiplier, nil
	}

	f, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", number, err)
	}
	return Size(f * float64(multiplier)), nil
}

// Format renders s in the largest unit that keeps the value at least one,
// with up to two decimals.
func Format(s Size) string {
	sign := ""
	if s < 0 {
		sign, s = "-", -s
	}

	for _, u := range []struct {
		size Size
		name string
	}{{TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"}} {
		if s >= u.size {
			value := strconv.FormatFloat(float64(s)/float64(u.size), 'f', 2, 64)
			value = strings.TrimRight(strings.TrimRight(value, "0"), ".")
			return sign + value + u.name
		}
	}
	return sign + strconv.FormatInt(int64(s), 10) + "B"
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}

// Bytes returns s as an int64.
func (s Size) Bytes() int64 {
	return int64(s)
}
