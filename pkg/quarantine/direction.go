package quarantine

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Direction records which propagation a quarantine move stands in for.
type Direction int

// Constants for Direction, acting as an enum.
const (
	// AToB: the file was removed from A, so B's copy was quarantined.
	AToB Direction = iota
	// BToA: the file was removed from B, so A's copy was quarantined.
	BToA
	// OneWay: the file was removed from the authoritative source of a one-way job.
	OneWay
)

var directionToString = map[Direction]string{
	AToB:   "A_to_B",
	BToA:   "B_to_A",
	OneWay: "one_way",
}
var stringToDirection = map[string]Direction{}

func init() {
	stringToDirection = util.InvertMap(directionToString)
}

// String returns the on-disk name of the direction.
func (d Direction) String() string {
	if str, ok := directionToString[d]; ok {
		return str
	}
	return fmt.Sprintf("unknown_direction(%d)", d)
}

// ParseDirection parses an on-disk direction name.
func ParseDirection(s string) (Direction, error) {
	if d, ok := stringToDirection[s]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("invalid direction: %q. Must be 'A_to_B', 'B_to_A' or 'one_way'", s)
}

// MarshalJSON implements the json.Marshaler interface for Direction.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Direction.
func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Direction should be a string, got %s", data)
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
