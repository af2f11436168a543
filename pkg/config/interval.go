package config

import (
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Interval is one of the named schedule intervals a job can use.
type Interval int

// Constants for Interval, acting as an enum.
const (
	Minute Interval = iota
	Hourly
	Daily
	Weekly
)

var intervalToString = map[Interval]string{
	Minute: "minute",
	Hourly: "hourly",
	Daily:  "daily",
	Weekly: "weekly",
}
var stringToInterval = map[string]Interval{}

var intervalDurations = map[Interval]time.Duration{
	Minute: time.Minute,
	Hourly: time.Hour,
	Daily:  24 * time.Hour,
	Weekly: 7 * 24 * time.Hour,
}

func init() {
	stringToInterval = util.InvertMap(intervalToString)
}

// String returns the string representation of an Interval.
func (i Interval) String() string {
	if str, ok := intervalToString[i]; ok {
		return str
	}
	return fmt.Sprintf("unknown_interval(%d)", i)
}

// ParseInterval accepts a named interval ("minute", "hourly", "daily",
// "weekly") or a Go duration string of at least one minute ("90m", "12h").
func ParseInterval(s string) (time.Duration, error) {
	if named, ok := stringToInterval[s]; ok {
		return intervalDurations[named], nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval: %q. Must be 'minute', 'hourly', 'daily', 'weekly' or a duration like '30m'", s)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("invalid interval: %q. Must be at least one minute", s)
	}
	return d, nil
}
