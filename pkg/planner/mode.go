package planner

import (
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Mode says which replicas a job may write to.
type Mode int

const (
	// OneWay copies source to destination and never writes the source.
	OneWay Mode = iota
	// Bidirectional propagates changes and deletions both ways.
	Bidirectional
)

var modeToString = map[Mode]string{
	OneWay:        "one-way",
	Bidirectional: "bidirectional",
}

var stringToMode = util.InvertMap(modeToString)

func (m Mode) String() string {
	if str, ok := modeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_sync_mode(%d)", m)
}

// ParseMode parses "one-way" or "bidirectional".
func ParseMode(s string) (Mode, error) {
	if mode, ok := stringToMode[s]; ok {
		return mode, nil
	}
	return 0, fmt.Errorf("invalid sync mode: %q. Must be 'one-way' or 'bidirectional'", s)
}

// ModeOf returns the mode a job runs in.
func ModeOf(job config.JobConfig) Mode {
	if job.Bidirectional {
		return Bidirectional
	}
	return OneWay
}
