package delta

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Apply transforms previous into a new full text by executing the
// instructions of the delta frame in order.
//
// The read cursor starts at unit 0 of previous and only copy (=) and
// skip (-) instructions advance it. Advancing past the end of previous
// is a protocol violation.
func Apply(previous, frame string) (string, error) {
	if frame == "" {
		return "", nil
	}

	prev := utf16.Encode([]rune(previous))
	out := make([]uint16, 0, len(prev))
	cursor := 0

	for _, instr := range strings.Split(frame, "\t") {
		if instr == "" {
			return "", fmt.Errorf("%w: empty instruction", wire.ErrMalformedDelta)
		}

		op, value := instr[0], instr[1:]
		switch op {
		case '+':
			literal, err := url.PathUnescape(value)
			if err != nil {
				return "", fmt.Errorf("%w: bad percent encoding in %q: %v", wire.ErrMalformedDelta, instr, err)
			}
			out = append(out, utf16.Encode([]rune(literal))...)

		case '=':
			n, err := parseCount(value)
			if err != nil {
				return "", fmt.Errorf("%w: %q: %v", wire.ErrMalformedDelta, instr, err)
			}
			if cursor+n > len(prev) {
				return "", fmt.Errorf("%w: copy of %d units at cursor %d exceeds baseline length %d",
					wire.ErrDeltaCursorOverrun, n, cursor, len(prev))
			}
			out = append(out, prev[cursor:cursor+n]...)
			cursor += n

		case '-':
			n, err := parseCount(value)
			if err != nil {
				return "", fmt.Errorf("%w: %q: %v", wire.ErrMalformedDelta, instr, err)
			}
			if cursor+n > len(prev) {
				return "", fmt.Errorf("%w: skip of %d units at cursor %d exceeds baseline length %d",
					wire.ErrDeltaCursorOverrun, n, cursor, len(prev))
			}
			cursor += n

		default:
			return "", fmt.Errorf("%w: unknown operator %q in %q", wire.ErrMalformedDelta, op, instr)
		}
	}

	return string(utf16.Decode(out)), nil
}

// parseCount parses the numeric value of a copy or skip instruction.
func parseCount(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count")
	}
	return n, nil
}
