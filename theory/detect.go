package theory

import (
	"go-remi/debug"
	"go-remi/midi"
)

// DetectKey picks the key whose scale holds the largest share of the
// distinct pitch classes in pitches. Ties go to the key listed first in
// Keys, so an ambiguous set reads as C major. ok is false for no pitches.
func DetectKey(pitches []midi.Pitch) (key Key, ok bool) {
	var present [12]bool
	unique := 0
	for _, p := range pitches {
		if !present[p.Class()] {
			present[p.Class()] = true
			unique++
		}
	}
	if unique == 0 {
		return Keys[0], false
	}

	best := -1.0
	for _, k := range Keys {
		in := 0
		for _, pc := range k.Scale() {
			if present[pc] {
				in++
			}
		}
		if score := float64(in) / float64(unique); score > best {
			key, best = k, score
		}
	}
	debug.Log("theory", "detected %s (%.2f of %d pitch classes)", key, best, unique)
	return key, true
}

// Correction is one pitch changed by CorrectNotes.
type Correction struct {
	Index    int
	From, To midi.Pitch
}

// CorrectNotes detects the key of notes and returns copies with every
// out-of-key pitch moved into it, plus the list of changes. Timing and
// velocity are untouched.
func CorrectNotes(notes []midi.Note) (Key, []midi.Note, []Correction) {
	pitches := make([]midi.Pitch, len(notes))
	for i, n := range notes {
		pitches[i] = n.Pitch
	}
	key, _ := DetectKey(pitches)

	out := make([]midi.Note, len(notes))
	var changes []Correction
	for i, n := range notes {
		out[i] = n
		if c := key.Correct(n.Pitch); c != n.Pitch {
			out[i].Pitch = c
			changes = append(changes, Correction{Index: i, From: n.Pitch, To: c})
		}
	}
	return key, out, changes
}
