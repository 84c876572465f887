package smf

import (
	"encoding/binary"
	"math"
	"sort"

	"go-remi/debug"
	"go-remi/midi"
)

// EncodeOptions controls how recorded notes become a file.
type EncodeOptions struct {
	PPQ       int     // ticks per quarter note
	MsPerBeat float64 // length of a quarter note; fixes the tempo
	// CompressLongNotes shortens notes held longer than a second on a
	// logarithmic curve, see CompressDuration.
	CompressLongNotes bool
	Velocity          uint8 // for notes recorded without one
	Program           uint8
	Channel           uint8
	TrackName         string
	TempoTrackName    string
}

// DefaultEncodeOptions is 480 PPQ at 120 BPM on channel 0 with an acoustic
// grand piano.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		PPQ:            480,
		MsPerBeat:      500,
		Velocity:       100,
		TrackName:      "Piano",
		TempoTrackName: "Tempo",
	}
}

func (o EncodeOptions) withDefaults() EncodeOptions {
	def := DefaultEncodeOptions()
	if o.PPQ <= 0 || o.PPQ > 0x7FFF {
		o.PPQ = def.PPQ
	}
	if o.MsPerBeat <= 0 {
		o.MsPerBeat = def.MsPerBeat
	}
	if o.Velocity == 0 {
		o.Velocity = def.Velocity
	}
	o.Velocity = clamp7(o.Velocity)
	o.Program &= 0x7F
	o.Channel &= 0x0F
	return o
}

// Tempo is the tempo meta event value, in microseconds per quarter note.
func (o EncodeOptions) Tempo() uint32 {
	us := math.Round(o.MsPerBeat * 1000)
	if us < 1 {
		us = 1
	}
	if us > 0xFFFFFF {
		us = 0xFFFFFF
	}
	return uint32(us)
}

// CompressDuration maps a note length in milliseconds onto a logarithmic
// curve above one second: 1000 + ln(ms-999)*300. Shorter notes are
// unchanged.
func CompressDuration(ms float64) float64 {
	if ms < 1000 {
		return ms
	}
	return 1000 + math.Log(ms-999)*300
}

type noteEvent struct {
	tick  int64
	on    bool
	pitch midi.Pitch
	vel   uint8
}

// Encode writes notes as a format 1 file with two tracks: a tempo track
// (name, tempo, 4/4 time signature) and a note track (name, program change,
// notes). Notes that cannot be encoded are dropped. An empty list still
// gives a complete file with an empty note track, so Encode never fails.
//
// Start times are shifted so the earliest note begins at tick 0. Events at
// the same tick are written releases first, then by ascending pitch, which
// makes the output deterministic.
func Encode(notes []midi.Note, opts EncodeOptions) []byte {
	opts = opts.withDefaults()
	events := noteEvents(notes, opts)

	out := make([]byte, 0, 64+len(events)*4)
	out = append(out, headerMagic...)
	out = binary.BigEndian.AppendUint32(out, headerLen)
	out = binary.BigEndian.AppendUint16(out, 1) // format
	out = binary.BigEndian.AppendUint16(out, 2) // tracks
	out = binary.BigEndian.AppendUint16(out, uint16(MetricDivision(uint16(opts.PPQ))))

	out = appendTrack(out, func(b []byte) []byte {
		b = appendMeta(b, 0, metaTrackName, []byte(opts.TempoTrackName))
		tempo := opts.Tempo()
		b = appendMeta(b, 0, metaTempo, []byte{byte(tempo >> 16), byte(tempo >> 8), byte(tempo)})
		// 4/4, 24 clocks per click, 8 32nds per quarter
		b = appendMeta(b, 0, metaTimeSig, []byte{4, 2, 24, 8})
		return appendMeta(b, 0, metaEndOfTrack, nil)
	})

	out = appendTrack(out, func(b []byte) []byte {
		b = appendMeta(b, 0, metaTrackName, []byte(opts.TrackName))
		b = append(b, 0, midi.StatusProgram|opts.Channel, opts.Program)
		var last int64
		for _, e := range events {
			delta := e.tick - last
			if delta < 0 {
				delta = 0
			}
			b = midi.AppendVLQ(b, uint32(delta))
			if e.on {
				b = append(b, midi.StatusNoteOn|opts.Channel, byte(e.pitch), e.vel)
			} else {
				b = append(b, midi.StatusNoteOff|opts.Channel, byte(e.pitch), 0)
			}
			last = e.tick
		}
		return appendMeta(b, 0, metaEndOfTrack, nil)
	})

	return out
}

// noteEvents turns valid notes into sorted note-on and note-off events.
func noteEvents(notes []midi.Note, opts EncodeOptions) []noteEvent {
	valid := make([]midi.Note, 0, len(notes))
	for _, n := range notes {
		if !n.Valid() {
			debug.Log("encode", "dropping note %s start=%dms duration=%dms", n.Pitch, n.StartMs, n.DurationMs)
			continue
		}
		valid = append(valid, n)
	}
	if len(valid) == 0 {
		return nil
	}

	min := valid[0].StartMs
	for _, n := range valid[1:] {
		if n.StartMs < min {
			min = n.StartMs
		}
	}

	ticks := func(ms float64) int64 {
		return int64(math.Round(ms * float64(opts.PPQ) / opts.MsPerBeat))
	}

	events := make([]noteEvent, 0, len(valid)*2)
	for _, n := range valid {
		startMs := float64(n.StartMs - min)
		durMs := float64(n.DurationMs)
		if opts.CompressLongNotes {
			durMs = CompressDuration(durMs)
		}
		on := ticks(startMs)
		off := ticks(startMs + durMs)
		if off <= on {
			off = on + 1
		}
		// A delta past the largest quantity cannot be written.
		if off > midi.MaxVLQ {
			debug.Log("encode", "dropping note %s at %dms: past the last writable tick", n.Pitch, n.StartMs)
			continue
		}
		vel := n.Velocity
		if vel == 0 {
			vel = opts.Velocity
		}
		events = append(events,
			noteEvent{tick: on, on: true, pitch: n.Pitch, vel: clamp7(vel)},
			noteEvent{tick: off, pitch: n.Pitch},
		)
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.tick != b.tick {
			return a.tick < b.tick
		}
		if a.on != b.on {
			return !a.on
		}
		return a.pitch < b.pitch
	})
	return events
}

// appendTrack writes an MTrk chunk, patching its length once body has
// written the content.
func appendTrack(out []byte, body func([]byte) []byte) []byte {
	out = append(out, trackMagic...)
	lengthAt := len(out)
	out = append(out, 0, 0, 0, 0)
	start := len(out)
	out = body(out)
	binary.BigEndian.PutUint32(out[lengthAt:], uint32(len(out)-start))
	return out
}

func appendMeta(b []byte, delta uint32, typ byte, data []byte) []byte {
	b = midi.AppendVLQ(b, delta)
	b = append(b, 0xFF, typ)
	b = midi.AppendVLQ(b, uint32(len(data)))
	return append(b, data...)
}

func clamp7(v uint8) uint8 {
	switch {
	case v == 0:
		return 1
	case v > 127:
		return 127
	}
	return v
}
