package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// ByteRange is one satisfiable byte span within a file of known size.
// Both bounds are inclusive.
type ByteRange struct {
	Start int64
	End   int64
}

func (b ByteRange) ContentLength() int64 {
	return b.End - b.Start + 1
}

func (b ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", b.Start, b.End, total)
}

// ParseRange interprets an HTTP Range header against a file size. An
// empty header returns (nil, nil): serve the whole file. Multi-range
// requests collapse to their first span; spans reaching past the end
// are clamped.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = strings.TrimSpace(first)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	var start, end int64
	if startStr == "" {
		// Suffix form: the last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrInvalidRange
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}
		if endStr == "" {
			end = size - 1
		} else {
			end, err = strconv.ParseInt(endStr, 10, 64)
			if err != nil {
				return nil, ErrInvalidRange
			}
		}
	}

	if start > end || start >= size {
		return nil, ErrUnsatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return &ByteRange{Start: start, End: end}, nil
}
