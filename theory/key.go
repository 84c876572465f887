// Package theory detects the key of a set of pitches and snaps stray notes
// into it.
package theory

import (
	"errors"
	"fmt"
	"strings"

	"go-remi/midi"
)

var ErrUnknownKey = errors.New("theory: unknown key")

// Mode is major or natural minor.
type Mode int

const (
	Major Mode = iota
	Minor
)

func (m Mode) String() string {
	if m == Minor {
		return "minor"
	}
	return "major"
}

var intervals = [2][7]int{
	Major: {0, 2, 4, 5, 7, 9, 11},
	Minor: {0, 2, 3, 5, 7, 8, 10},
}

// Key is a tonic pitch class and a mode.
type Key struct {
	Tonic int // pitch class, 0 is C
	Mode  Mode
	name  string
}

// tonics in detection order: C, the sharp keys, then the flat keys.
var tonics = []struct {
	name  string
	class int
}{
	{"C", 0}, {"G", 7}, {"D", 2}, {"A", 9}, {"E", 4}, {"B", 11}, {"F#", 6}, {"C#", 1},
	{"F", 5}, {"Bb", 10}, {"Eb", 3}, {"Ab", 8},
}

// enharmonic spellings accepted by ParseKey
var tonicAliases = map[string]int{
	"Db": 1, "Gb": 6, "Cb": 11, "D#": 3, "G#": 8, "A#": 10,
}

var flatTonics = map[string]bool{"F": true, "Bb": true, "Eb": true, "Ab": true, "Db": true, "Gb": true, "Cb": true}

// Keys lists all 24 keys in the order detection prefers them on a tie:
// each tonic major then minor.
var Keys = func() []Key {
	keys := make([]Key, 0, len(tonics)*2)
	for _, t := range tonics {
		keys = append(keys,
			Key{Tonic: t.class, Mode: Major, name: t.name},
			Key{Tonic: t.class, Mode: Minor, name: t.name},
		)
	}
	return keys
}()

// ParseKey reads names like "Bb major" or "f# minor".
func ParseKey(s string) (Key, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Key{}, fmt.Errorf("%q: %w", s, ErrUnknownKey)
	}
	tonic := fields[0]
	if tonic != "" {
		tonic = strings.ToUpper(tonic[:1]) + tonic[1:]
	}

	var mode Mode
	switch strings.ToLower(fields[1]) {
	case "major":
		mode = Major
	case "minor":
		mode = Minor
	default:
		return Key{}, fmt.Errorf("%q: %w", s, ErrUnknownKey)
	}

	for _, t := range tonics {
		if t.name == tonic {
			return Key{Tonic: t.class, Mode: mode, name: t.name}, nil
		}
	}
	if class, ok := tonicAliases[tonic]; ok {
		return Key{Tonic: class, Mode: mode, name: tonic}, nil
	}
	return Key{}, fmt.Errorf("%q: %w", s, ErrUnknownKey)
}

func (k Key) tonicName() string {
	if k.name != "" {
		return k.name
	}
	for _, t := range tonics {
		if t.class == k.Tonic {
			return t.name
		}
	}
	return "?"
}

func (k Key) String() string {
	return k.tonicName() + " " + k.Mode.String()
}

// Scale returns the pitch classes of the key, tonic first.
func (k Key) Scale() [7]int {
	var s [7]int
	for i, iv := range intervals[k.Mode] {
		s[i] = (iv + k.Tonic) % 12
	}
	return s
}

// Contains reports whether p's pitch class is in the scale.
func (k Key) Contains(p midi.Pitch) bool {
	pc := p.Class()
	for _, s := range k.Scale() {
		if s == pc {
			return true
		}
	}
	return false
}

// PrefersFlats reports whether notes in this key are spelled with flats.
func (k Key) PrefersFlats() bool {
	return flatTonics[k.tonicName()]
}

// Correct moves p to the nearest pitch in the scale. Pitches already in
// the scale are unchanged. When two scale notes are equally near, the one
// earlier in the scale wins.
func (k Key) Correct(p midi.Pitch) midi.Pitch {
	if k.Contains(p) {
		return p
	}
	pc := p.Class()
	best, bestDist := 0, 13
	for _, s := range k.Scale() {
		// signed step in -6..5
		d := ((s-pc)%12 + 12) % 12
		if d > 6 {
			d -= 12
		}
		if abs(d) < bestDist {
			best, bestDist = d, abs(d)
		}
	}
	n := int(p) + best
	if n < 0 || n > midi.MaxPitch {
		// Stay on the keyboard: take the same class an octave the other way.
		if best > 0 {
			n -= 12
		} else {
			n += 12
		}
	}
	return midi.Pitch(n)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
