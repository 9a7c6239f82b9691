package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"train-timeline/internal/timeline"
)

// parseClock parses HH:MM or HH:MM:SS as an offset from midnight. Hours past
// 23 address the early morning of the following date.
func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || (i > 0 && n > 59) {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		v[i] = n
	}
	return time.Duration(v[0])*time.Hour + time.Duration(v[1])*time.Minute + time.Duration(v[2])*time.Second, nil
}

// clockBounds resolves optional times of day against the timeline's service
// day. An empty string leaves that bound open.
func clockBounds(tl timeline.Timeline, from, to string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if from != "" {
		c, err := parseClock(from)
		if err != nil {
			return nil, nil, err
		}
		t := tl.ClockTime(c, false)
		start = &t
	}
	if to != "" {
		c, err := parseClock(to)
		if err != nil {
			return nil, nil, err
		}
		t := tl.ClockTime(c, true)
		end = &t
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, fmt.Errorf("-to %s is before -from %s", to, from)
	}
	return start, end, nil
}
