package downloader

import (
	"fmt"
	"strconv"
	"strings"
)

// TempPath is where partial data for dest is kept.
func TempPath(dest string) string {
	return dest + ".temp"
}

// RangeHeader asks for everything from offset to the end of the resource.
func RangeHeader(offset int64) string {
	return fmt.Sprintf("bytes=%d-", offset)
}

// parseContentRange reads "bytes <start>-<end>/<total>". total is -1 for "*".
func parseContentRange(v string) (start, total int64, err error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || unit != "bytes" {
		return 0, 0, fmt.Errorf("invalid content range %q", v)
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", v)
	}
	first, _, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", v)
	}
	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content range %q: %w", v, err)
	}
	if size == "*" {
		return start, -1, nil
	}
	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content range %q: %w", v, err)
	}
	return start, total, nil
}
