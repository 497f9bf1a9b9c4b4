package chapters

import (
	"fmt"
	"strconv"
	"strings"
)

// parseChapterTime converts a Matroska "HH:MM:SS.nnnnnnnnn" timestamp to
// nanoseconds. Fractional digits beyond nine are truncated; fewer are
// zero-padded.
func parseChapterTime(ts string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed chapter timestamp %q", ts)
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, err
	}
	secParts := strings.SplitN(parts[2], ".", 2)
	s, err := strconv.ParseInt(secParts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	var frac int64
	if len(secParts) == 2 {
		digits := secParts[1]
		if len(digits) > 9 {
			digits = digits[:9]
		}
		for len(digits) < 9 {
			digits += "0"
		}
		frac, err = strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, err
		}
	}
	return ((h*60+m)*60+s)*1_000_000_000 + frac, nil
}

// formatChapterTime renders nanoseconds back to the canonical
// "HH:MM:SS.nnnnnnnnn" form.
func formatChapterTime(ns int64) string {
	if ns < 0 {
		ns = 0
	}
	frac := ns % 1_000_000_000
	total := ns / 1_000_000_000
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d.%09d", h, m, s, frac)
}

// FormatDelta renders a signed nanosecond delta with a unit adapted to
// its magnitude.
func FormatDelta(ns int64) string {
	sign := ""
	v := ns
	if v < 0 {
		sign = "-"
		v = -v
	} else if v > 0 {
		sign = "+"
	}
	switch {
	case v < 1_000:
		return fmt.Sprintf("%s%dns", sign, v)
	case v < 1_000_000:
		return fmt.Sprintf("%s%.1fµs", sign, float64(v)/1_000)
	default:
		return fmt.Sprintf("%s%.1fms", sign, float64(v)/1_000_000)
	}
}
