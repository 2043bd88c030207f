package matcher

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedKey is returned for strings that are neither Camelot nor a
// standard key name.
var ErrMalformedKey = errors.New("malformed key")

// Mode is the parity class of a wheel position: A is minor, B is major.
type Mode byte

const (
	Minor Mode = 'A'
	Major Mode = 'B'
)

// Key is a position on the 12-step Camelot wheel.
type Key struct {
	Number int // 1..12
	Mode   Mode
}

func (k Key) String() string {
	return strconv.Itoa(k.Number) + string(k.Mode)
}

var camelotRe = regexp.MustCompile(`^(1[0-2]|[1-9])([AaBb])$`)

var pitchClasses = map[string]int{
	"C": 0, "C#": 1, "DB": 1, "D": 2, "D#": 3, "EB": 3, "E": 4, "F": 5,
	"F#": 6, "GB": 6, "G": 7, "G#": 8, "AB": 8, "A": 9, "A#": 10, "BB": 10, "B": 11,
}

// ParseKey accepts Camelot ("8A", "12b") and standard names ("Am", "C#m",
// "F# minor", "Bb", "E major").
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if m := camelotRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Key{Number: n, Mode: Mode(strings.ToUpper(m[2])[0])}, nil
	}
	return parseStandard(s)
}

func parseStandard(s string) (Key, error) {
	if s == "" {
		return Key{}, fmt.Errorf("%w: empty", ErrMalformedKey)
	}
	root := strings.ToUpper(s[:1])
	rest := s[1:]
	if len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		root += strings.ToUpper(rest[:1])
		rest = rest[1:]
	}
	pc, ok := pitchClasses[root]
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	mode := Major
	switch strings.ToLower(strings.TrimSpace(rest)) {
	case "", "maj", "major":
	case "m", "min", "minor":
		mode = Minor
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	// A minor key shares its wheel number with its relative major.
	if mode == Minor {
		pc = (pc + 3) % 12
	}
	// Wheel numbers advance by fifths; C major is 8B.
	n := (pc*7%12+7)%12 + 1
	return Key{Number: n, Mode: mode}, nil
}

// HarmonicDistance is 0 for the same wheel number (the same key or its
// relative major/minor), 1 for a neighbouring number in the same mode, and
// at least 2 for anything else.
func HarmonicDistance(a, b Key) int {
	d := a.Number - b.Number
	if d < 0 {
		d = -d
	}
	if d > 6 {
		d = 12 - d
	}
	if d == 0 {
		return 0
	}
	if a.Mode == b.Mode {
		return d
	}
	return d + 1
}
