package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var humanIntervalPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]+)\s*$`)

var unitDurations = map[string]time.Duration{
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

// parseHumanInterval parses strings like "30 seconds", "2 hours", "1.5h" into a Duration.
// This is a narrow, hand-rolled parser: nothing in the example corpus ships a
// library that turns "2 hours" into a time.Duration (time.ParseDuration only
// accepts the compact "2h" form), so there is no third-party dependency to
// ground this on (see DESIGN.md).
func parseHumanInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(strings.ReplaceAll(s, " ", "")); err == nil {
		return d, nil
	}
	m := humanIntervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("not a human interval: %q", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("not a human interval: %q", s)
	}
	unit, ok := unitDurations[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown interval unit: %q", m[2])
	}
	return time.Duration(n * float64(unit)), nil
}
