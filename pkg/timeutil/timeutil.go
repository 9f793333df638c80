// Package timeutil provides time zone and time window helpers.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// LoadLocation resolves a zone name. An empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// LocationOrUTC is LoadLocation falling back to UTC.
func LocationOrUTC(name string) *time.Location {
	loc, err := LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WindowIndex returns the number of whole windows of size d elapsed since
// the Unix epoch at t. Windows shorter than a second count as one second.
func WindowIndex(t time.Time, d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs <= 0 {
		secs = 1
	}
	unix := t.Unix()
	idx := unix / secs
	if unix < 0 && unix%secs != 0 {
		idx--
	}
	return idx
}

// WindowStart returns the start of the window of size d containing t.
func WindowStart(t time.Time, d time.Duration) time.Time {
	secs := int64(d / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return time.Unix(WindowIndex(t, d)*secs, 0).In(t.Location())
}

// FormatRelative formats t relative to now, e.g. "3m ago" or "in 2h".
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d >= 0 {
		if d < time.Minute {
			return "just now"
		}
		return formatDuration(d) + " ago"
	}
	d = -d
	if d < time.Minute {
		return "in under a minute"
	}
	return "in " + formatDuration(d)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}
