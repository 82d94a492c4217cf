package models

import (
	"fmt"
	"strconv"
	"time"
)

const timestampLayout = "20060102150405"

// TimestampLen is the length of a wiki timestamp: YYYYMMDDHHMMSSmmm.
const TimestampLen = 17

// FormatTimestamp renders t as a 17 character UTC wiki timestamp with
// millisecond resolution.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	return t.Format(timestampLayout) + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}

// ParseTimestamp parses a 17 character wiki timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	if len(s) != TimestampLen {
		return time.Time{}, fmt.Errorf("models: timestamp %q: want %d characters", s, TimestampLen)
	}
	base, err := time.ParseInLocation(timestampLayout, s[:14], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("models: timestamp %q: %w", s, err)
	}
	ms, err := strconv.Atoi(s[14:])
	if err != nil {
		return time.Time{}, fmt.Errorf("models: timestamp %q: %w", s, err)
	}
	return base.Add(time.Duration(ms) * time.Millisecond), nil
}

// DisplayTimestamp renders a wiki timestamp as "YYYY-MM-DD HH:MM:SS".
// Values that are not wiki timestamps are returned unchanged.
func DisplayTimestamp(s string) string {
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02 15:04:05")
}
