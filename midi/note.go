package midi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Pitch is a MIDI note number. Middle C (60) is C4.
type Pitch uint8

// MaxPitch is the highest valid note number.
const MaxPitch = 127

var noteNamePattern = regexp.MustCompile(`^([A-G])(#|b)?(-?\d+)$`)

var letterSemitone = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
var flatNames = [12]string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}

// NameToNumber parses a scientific pitch name such as "F#4" or "Db-1".
// Enharmonic spellings resolve to the same number, so "B#3" is 60 and
// "Cb4" is 59.
func NameToNumber(name string) (Pitch, error) {
	m := noteNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidNoteName)
	}
	semitone := letterSemitone[m[1][0]]
	switch m[2] {
	case "#":
		semitone++
	case "b":
		semitone--
	}
	octave, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidNoteName)
	}
	// Octaves -2 and 10 can still spell an in-range note ("B#-2", "Cb10")
	// and anything further out cannot. Checking first keeps the arithmetic
	// from overflowing.
	if octave < -2 || octave > 10 {
		return 0, fmt.Errorf("%q: octave %d: %w", name, octave, ErrOutOfRange)
	}
	n := (octave+1)*12 + semitone
	if n < 0 || n > MaxPitch {
		return 0, fmt.Errorf("%q is note %d: %w", name, n, ErrOutOfRange)
	}
	return Pitch(n), nil
}

// NumberToName returns the canonical sharp spelling of note n.
func NumberToName(n int) (string, error) {
	if n < 0 || n > MaxPitch {
		return "", fmt.Errorf("note %d: %w", n, ErrOutOfRange)
	}
	return Pitch(n).Name(false), nil
}

// Name spells the pitch with sharps, or with flats when flats is true.
func (p Pitch) Name(flats bool) string {
	names := &sharpNames
	if flats {
		names = &flatNames
	}
	return names[int(p)%12] + strconv.Itoa(int(p)/12-1)
}

func (p Pitch) String() string {
	return p.Name(false)
}

// Class is the pitch class 0-11 with C as 0.
func (p Pitch) Class() int {
	return int(p) % 12
}

func (p Pitch) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either a note name or a note number.
func (p *Pitch) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		n, err := NameToNumber(name)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("pitch %s: %w", data, ErrInvalidNoteName)
	}
	if n < 0 || n > MaxPitch {
		return fmt.Errorf("note %d: %w", n, ErrOutOfRange)
	}
	*p = Pitch(n)
	return nil
}

// Note is a recorded note: a pitch held for DurationMs starting StartMs
// after the recording began. ID only correlates the start and end of a
// note while it is being recorded and is never written to a file.
type Note struct {
	ID         string `json:"id,omitempty"`
	Pitch      Pitch  `json:"pitch"`
	StartMs    int64  `json:"startOffsetMs"`
	DurationMs int64  `json:"durationMs"`
	Velocity   uint8  `json:"velocity,omitempty"`
}

// Valid reports whether the note can be encoded.
func (n Note) Valid() bool {
	return n.DurationMs > 0 && n.StartMs >= 0 && n.Pitch <= MaxPitch
}

// EndMs is the offset at which the note is released.
func (n Note) EndMs() int64 {
	return n.StartMs + n.DurationMs
}
