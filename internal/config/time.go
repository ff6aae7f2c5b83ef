package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// now is replaced in tests.
var now = time.Now

var durationPart = regexp.MustCompile(`(\d+)([wdhms])`)

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimeRef turns a history filter into a point in time. It accepts an
// absolute timestamp, the words "now", "today" and "yesterday" (midnight
// local time), or a duration ago such as "90m", "1d2h" or "2w".
func ParseTimeRef(s string) (time.Time, error) {
	input := strings.ToLower(strings.TrimSpace(s))
	if input == "" {
		return time.Time{}, fmt.Errorf("time reference is empty")
	}

	current := now()
	midnight := time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, current.Location())
	switch input {
	case "now":
		return current, nil
	case "today":
		return midnight, nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), nil
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, strings.ToUpper(input)); err == nil {
			return t, nil
		}
	}

	d, err := ParseDuration(input)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time reference %q: use a date, today, yesterday or a duration like 2h", s)
	}
	return current.Add(-d), nil
}

// ParseDuration parses a Go duration or one extended with d (days) and
// w (weeks) units, e.g. "1d12h" or "2w".
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	matches := durationPart.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}

	consumed := 0
	var total time.Duration
	for _, m := range matches {
		consumed += len(m[0])
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		total += time.Duration(n) * unitDuration(m[2])
	}
	if consumed != len(s) {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	return total, nil
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "w":
		return 7 * 24 * time.Hour
	case "d":
		return 24 * time.Hour
	case "h":
		return time.Hour
	case "m":
		return time.Minute
	default:
		return time.Second
	}
}
