package theory

import (
	"fmt"

	"go-remi/smf"
)

// Result is the outcome of correcting a whole file.
type Result struct {
	Key         Key
	Notes       int
	Corrections []Correction
	Data        []byte
}

// CorrectFile decodes a MIDI file, snaps its notes into the detected key
// and encodes the result with the file's resolution and opening tempo. A
// damaged track is corrected as far as it decoded.
func CorrectFile(data []byte, opts smf.EncodeOptions) (Result, error) {
	f, err := smf.Decode(data)
	if err != nil {
		return Result{}, err
	}
	notes := f.Notes()
	if len(notes) == 0 {
		return Result{}, fmt.Errorf("theory: file has no notes")
	}

	key, corrected, changes := CorrectNotes(notes)
	if ppq := f.PPQ(); ppq > 0 {
		opts.PPQ = ppq
		opts.MsPerBeat = float64(f.TempoMap().TempoAt(0)) / 1000
	}
	return Result{
		Key:         key,
		Notes:       len(notes),
		Corrections: changes,
		Data:        smf.Encode(corrected, opts),
	}, nil
}
