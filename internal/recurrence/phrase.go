package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeOfDayPattern = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?::(\d{2}))?(?::(\d{2}))?\s*(am|pm)?\s*$`)

// parseTimeOfDay parses phrases like "3:00pm", "15:04", "3pm" into an hour/min/sec.
func parseTimeOfDay(s string) (hour, min, sec int, err error) {
	m := timeOfDayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("not a time-of-day phrase: %q", s)
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	switch strings.ToLower(m[4]) {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 || sec < 0 || sec > 59 {
		return 0, 0, 0, fmt.Errorf("time-of-day out of range: %q", s)
	}
	return hour, min, sec, nil
}

var dayWordOffset = map[string]int{"today": 0, "tomorrow": 1}

// ParseDatePhrase parses a human date phrase ("tomorrow at 9am", "today at 3:00pm",
// "in 5 minutes", "now") into an absolute instant relative to now, in loc.
// Job.Schedule accepts either a time.Time or one of these phrases (spec §4.2).
func ParseDatePhrase(s string, now time.Time, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(s)
	s = strings.ToLower(raw)
	if s == "now" {
		return now, nil
	}
	now = now.In(loc)

	if strings.HasPrefix(s, "in ") {
		d, err := parseHumanInterval(strings.TrimPrefix(s, "in "))
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date phrase %q: %w", s, err)
		}
		return now.Add(d), nil
	}

	for word, offsetDays := range dayWordOffset {
		prefix := word + " at "
		if strings.HasPrefix(s, prefix) {
			hour, min, sec, err := parseTimeOfDay(strings.TrimPrefix(s, prefix))
			if err != nil {
				return time.Time{}, fmt.Errorf("parse date phrase %q: %w", s, err)
			}
			base := now.AddDate(0, 0, offsetDays)
			return time.Date(base.Year(), base.Month(), base.Day(), hour, min, sec, 0, loc), nil
		}
	}

	if hour, min, sec, err := parseTimeOfDay(s); err == nil {
		occurrence := time.Date(now.Year(), now.Month(), now.Day(), hour, min, sec, 0, loc)
		if !occurrence.After(now) {
			occurrence = occurrence.AddDate(0, 0, 1)
		}
		return occurrence, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unrecognized date phrase %q", ErrUnrecognizedPhrase, s)
}
