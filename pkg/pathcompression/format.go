package pathcompression

import (
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Format is the container and compression of an export archive.
type Format string

const (
	TarGz  Format = "tar.gz"
	TarZst Format = "tar.zst"
)

var formatToString = map[Format]string{
	TarGz:  "tar.gz",
	TarZst: "tar.zst",
}

var stringToFormat = util.InvertMap(formatToString)

// Extension returns the file extension of the format, including the leading dot.
func (f Format) Extension() string {
	return "." + f.String()
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_archive_format(%s)", string(f))
}

// ParseFormat parses a --format flag value.
func ParseFormat(s string) (Format, error) {
	if format, ok := stringToFormat[s]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid archive format: %q. Must be 'tar.gz' or 'tar.zst'", s)
}
