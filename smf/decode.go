package smf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go-remi/debug"
	"go-remi/midi"
	"go-remi/timing"
)

// Meta event types the decoder understands.
const (
	metaTrackName  = 0x03
	metaEndOfTrack = 0x2F
	metaTempo      = 0x51
	metaTimeSig    = 0x58
)

// File is a decoded Standard MIDI File.
type File struct {
	Format     uint16
	TrackCount int // as declared by the header
	Division   Division
	Tracks     []Track

	tempo *timing.TempoMap
}

// Track is one decoded track chunk. When Err is set the track stopped early
// and Events holds what was read before the failure.
type Track struct {
	Name    string
	Events  []midi.Event
	EndTick int64
	End     time.Duration
	Err     error

	tempo *timing.TempoMap
}

// DecodeReader reads all of r and decodes it.
func DecodeReader(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode parses a Standard MIDI File. Only a bad header is fatal. A broken
// track keeps the events read before the problem and records the error in
// Track.Err; tracks before it are unaffected. See File.Err.
func Decode(data []byte) (*File, error) {
	f, pos, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	for i := 0; i < f.TrackCount; i++ {
		tr, next, ok := decodeChunk(data, pos, i)
		f.Tracks = append(f.Tracks, tr)
		if tr.Err != nil {
			debug.Log("smf", "track %d: %v (%d events kept)", i, tr.Err, len(tr.Events))
		}
		if !ok {
			// The chunk boundaries can no longer be trusted.
			break
		}
		pos = next
	}

	f.resolveTimes()
	return f, nil
}

func decodeHeader(data []byte) (*File, int, error) {
	if len(data) < chunkHeadLen+headerLen {
		return nil, 0, fmt.Errorf("%d bytes is too short: %w", len(data), ErrMalformedHeader)
	}
	if string(data[:4]) != headerMagic {
		return nil, 0, fmt.Errorf("magic %q: %w", data[:4], ErrMalformedHeader)
	}
	length := binary.BigEndian.Uint32(data[4:8])
	if length < headerLen || uint64(length) > uint64(len(data)-chunkHeadLen) {
		return nil, 0, fmt.Errorf("header length %d: %w", length, ErrMalformedHeader)
	}
	f := &File{
		Format:     binary.BigEndian.Uint16(data[8:10]),
		TrackCount: int(binary.BigEndian.Uint16(data[10:12])),
		Division:   Division(binary.BigEndian.Uint16(data[12:14])),
	}
	if f.Format > 2 {
		return nil, 0, fmt.Errorf("format %d: %w", f.Format, ErrMalformedHeader)
	}
	if !f.Division.Valid() {
		return nil, 0, fmt.Errorf("%s: %w", f.Division, ErrMalformedHeader)
	}
	// Extra header bytes from future revisions are skipped.
	return f, chunkHeadLen + int(length), nil
}

// decodeChunk reads the track chunk at pos. ok is false when decoding must
// not continue past this chunk.
func decodeChunk(data []byte, pos, index int) (tr Track, next int, ok bool) {
	if pos+chunkHeadLen > len(data) {
		tr.Err = fmt.Errorf("track %d: missing chunk header at byte %d: %w", index, pos, ErrTruncatedTrack)
		return tr, pos, false
	}
	if string(data[pos:pos+4]) != trackMagic {
		tr.Err = fmt.Errorf("track %d: magic %q at byte %d: %w", index, data[pos:pos+4], pos, ErrMalformedTrack)
		return tr, pos, false
	}
	length := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
	start := pos + chunkHeadLen
	end := start + length
	truncated := length < 0 || end > len(data) || end < start
	if truncated {
		end = len(data)
	}

	p := trackParser{buf: data[start:end], base: start, track: index}
	err := p.run()
	tr = p.result()
	switch {
	case err != nil:
		tr.Err = fmt.Errorf("track %d: %w", index, err)
	case truncated && !p.ended:
		tr.Err = fmt.Errorf("track %d: chunk claims %d bytes, %d present: %w", index, length, end-start, ErrTruncatedTrack)
	}
	return tr, end, !truncated
}

// trackParser walks one track chunk:
// delta time, status, then a channel, meta or system event, until
// end-of-track or the chunk runs out.
type trackParser struct {
	buf   []byte
	pos   int
	base  int // offset of buf within the file, for messages
	track int

	tick    int64
	running byte
	ended   bool

	name   string
	events []midi.Event
}

func (p *trackParser) result() Track {
	return Track{Name: p.name, Events: p.events, EndTick: p.tick}
}

func (p *trackParser) fail(kind error, format string, args ...any) error {
	return fmt.Errorf("byte %d: %s: %w", p.base+p.pos, fmt.Sprintf(format, args...), kind)
}

func (p *trackParser) run() error {
	for p.pos < len(p.buf) && !p.ended {
		delta, n, err := midi.DecodeVLQ(p.buf, p.pos)
		if err != nil {
			if errors.Is(err, midi.ErrTruncatedData) {
				return p.fail(ErrTruncatedTrack, "delta time")
			}
			return p.fail(ErrMalformedTrack, "delta time")
		}
		p.pos += n
		p.tick += int64(delta)

		if err := p.event(); err != nil {
			return err
		}
	}
	return nil
}

func (p *trackParser) event() error {
	if p.pos >= len(p.buf) {
		return p.fail(ErrTruncatedTrack, "missing status after delta time")
	}
	b := p.buf[p.pos]
	switch {
	case b == 0xFF:
		p.running = 0
		p.pos++
		return p.meta()
	case b == 0xF0 || b == 0xF7:
		p.running = 0
		p.pos++
		data, err := p.lengthPrefixed("sysex")
		if err != nil {
			return err
		}
		debug.LogEvery(64, "smf", "skipped sysex of %d bytes", len(data))
		return nil
	case b >= 0xF8:
		// Real-time bytes carry no data and leave running status alone.
		p.pos++
		return nil
	case b >= 0xF1:
		p.running = 0
		p.pos++
		return p.skip(systemDataLen(b), "system message")
	case b&0x80 != 0:
		p.running = b
		p.pos++
		return p.channel(b)
	default:
		if p.running == 0 {
			return p.fail(ErrMalformedTrack, "data byte 0x%02x without running status", b)
		}
		return p.channel(p.running)
	}
}

func (p *trackParser) channel(status byte) error {
	n := 2
	if kind := status & 0xF0; kind == midi.StatusProgram || kind == midi.StatusChanPressure {
		n = 1
	}
	if p.pos+n > len(p.buf) {
		return p.fail(ErrTruncatedTrack, "channel message 0x%02x", status)
	}
	data := p.buf[p.pos : p.pos+n]
	for _, d := range data {
		if d&0x80 != 0 {
			return p.fail(ErrMalformedTrack, "status byte 0x%02x inside channel message 0x%02x", d, status)
		}
	}
	p.pos += n

	ch := status & 0x0F
	switch status & 0xF0 {
	case midi.StatusNoteOn:
		kind := midi.KindNoteOn
		if data[1] == 0 {
			kind = midi.KindNoteOff
		}
		p.add(midi.Event{Kind: kind, Channel: ch, Pitch: midi.Pitch(data[0]), Velocity: data[1]})
	case midi.StatusNoteOff:
		p.add(midi.Event{Kind: midi.KindNoteOff, Channel: ch, Pitch: midi.Pitch(data[0]), Velocity: data[1]})
	}
	return nil
}

func (p *trackParser) meta() error {
	if p.pos >= len(p.buf) {
		return p.fail(ErrTruncatedTrack, "meta event type")
	}
	typ := p.buf[p.pos]
	p.pos++
	data, err := p.lengthPrefixed("meta event")
	if err != nil {
		return err
	}
	switch typ {
	case metaEndOfTrack:
		p.ended = true
	case metaTrackName:
		if p.name == "" {
			p.name = string(data)
		}
	case metaTempo:
		if len(data) != 3 {
			debug.Log("smf", "track %d: tempo event with %d bytes ignored", p.track, len(data))
			return nil
		}
		tempo := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
		if tempo == 0 {
			return nil
		}
		p.add(midi.Event{Kind: midi.KindTempo, Tempo: tempo})
	}
	return nil
}

func (p *trackParser) lengthPrefixed(what string) ([]byte, error) {
	length, n, err := midi.DecodeVLQ(p.buf, p.pos)
	if err != nil {
		if errors.Is(err, midi.ErrTruncatedData) {
			return nil, p.fail(ErrTruncatedTrack, "%s length", what)
		}
		return nil, p.fail(ErrMalformedTrack, "%s length", what)
	}
	p.pos += n
	if p.pos+length > len(p.buf) {
		return nil, p.fail(ErrTruncatedTrack, "%s of %d bytes", what, length)
	}
	data := p.buf[p.pos : p.pos+length]
	p.pos += length
	return data, nil
}

func (p *trackParser) skip(n int, what string) error {
	if p.pos+n > len(p.buf) {
		return p.fail(ErrTruncatedTrack, "%s", what)
	}
	p.pos += n
	return nil
}

func (p *trackParser) add(e midi.Event) {
	e.Tick = p.tick
	e.Track = p.track
	p.events = append(p.events, e)
}

// systemDataLen is the number of data bytes after a system common status.
func systemDataLen(status byte) int {
	switch status {
	case 0xF1, 0xF3:
		return 1
	case 0xF2:
		return 2
	}
	return 0
}

// resolveTimes builds the tempo maps and fills in event times. Formats 0
// and 1 share one tempo map built from every track; in format 2 each track
// is an independent sequence with its own.
func (f *File) resolveTimes() {
	if f.Format == 2 {
		for i := range f.Tracks {
			f.Tracks[i].tempo = timing.NewTempoMap(tempoChanges(f.Tracks[i:i+1])...)
		}
		if len(f.Tracks) > 0 {
			f.tempo = f.Tracks[0].tempo
		}
	} else {
		f.tempo = timing.NewTempoMap(tempoChanges(f.Tracks)...)
		for i := range f.Tracks {
			f.Tracks[i].tempo = f.tempo
		}
	}
	if f.tempo == nil {
		f.tempo = timing.NewTempoMap()
	}

	for i := range f.Tracks {
		tr := &f.Tracks[i]
		for j := range tr.Events {
			tr.Events[j].Time = f.Division.TimeAt(tr.tempo, tr.Events[j].Tick)
		}
		tr.End = f.Division.TimeAt(tr.tempo, tr.EndTick)
	}
}

// tempoChanges collects tempo events in tick order. Ties keep track order
// so the last event at a tick wins.
func tempoChanges(tracks []Track) []timing.TempoChange {
	var changes []timing.TempoChange
	for _, tr := range tracks {
		for _, e := range tr.Events {
			if e.Kind == midi.KindTempo {
				changes = append(changes, timing.TempoChange{Tick: e.Tick, MicrosPerQuarter: e.Tempo})
			}
		}
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Tick < changes[j].Tick })
	return changes
}

// TempoMap returns the tempo map of the file (of the first track for
// format 2 files).
func (f *File) TempoMap() *timing.TempoMap {
	return f.tempo
}

// PPQ returns the ticks per quarter note, or 0 for SMPTE files.
func (f *File) PPQ() int {
	return f.Division.TicksPerQuarter()
}

// Err joins the errors of every damaged track, or returns nil when the
// whole file decoded cleanly.
func (f *File) Err() error {
	var errs []error
	for _, tr := range f.Tracks {
		if tr.Err != nil {
			errs = append(errs, tr.Err)
		}
	}
	if len(f.Tracks) < f.TrackCount && len(errs) == 0 {
		errs = append(errs, fmt.Errorf("%d of %d tracks present: %w", len(f.Tracks), f.TrackCount, ErrTruncatedTrack))
	}
	return errors.Join(errs...)
}

// EventTracks returns the events of every track.
func (f *File) EventTracks() [][]midi.Event {
	out := make([][]midi.Event, len(f.Tracks))
	for i, tr := range f.Tracks {
		out[i] = tr.Events
	}
	return out
}

// End is the latest end-of-track time, the length the file declares.
func (f *File) End() time.Duration {
	var end time.Duration
	for _, tr := range f.Tracks {
		if tr.End > end {
			end = tr.End
		}
	}
	return end
}

// Timeline returns the note events ready for playback, with the declared
// length reconciled against the one derived from the notes.
func (f *File) Timeline() *timing.Timeline {
	return timing.NewTimeline(f.EventTracks(), f.End())
}

type noteKey struct {
	ch    uint8
	pitch midi.Pitch
}

// Notes pairs note-ons with note-offs into notes. Overlapping notes of the
// same pitch pair first-in first-out. A note still held when its track ends
// is closed at the end of the track; a release with nothing held is
// dropped. Notes are ordered by start, then pitch.
func (f *File) Notes() []midi.Note {
	var notes []midi.Note
	for _, tr := range f.Tracks {
		held := make(map[noteKey][]midi.Event)
		for _, e := range tr.Events {
			key := noteKey{e.Channel, e.Pitch}
			switch e.Kind {
			case midi.KindNoteOn:
				held[key] = append(held[key], e)
			case midi.KindNoteOff:
				q := held[key]
				if len(q) == 0 {
					debug.Log("smf", "track %d: release of %s at tick %d without a note", e.Track, e.Pitch, e.Tick)
					continue
				}
				held[key] = q[1:]
				notes = append(notes, makeNote(q[0], e.Time))
			}
		}
		keys := make([]noteKey, 0, len(held))
		for key := range held {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].ch != keys[j].ch {
				return keys[i].ch < keys[j].ch
			}
			return keys[i].pitch < keys[j].pitch
		})
		for _, key := range keys {
			for _, on := range held[key] {
				if tr.End > on.Time {
					notes = append(notes, makeNote(on, tr.End))
				}
			}
		}
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].StartMs != notes[j].StartMs {
			return notes[i].StartMs < notes[j].StartMs
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return notes
}

func makeNote(on midi.Event, end time.Duration) midi.Note {
	start := roundMs(on.Time)
	return midi.Note{
		Pitch:      on.Pitch,
		StartMs:    start,
		DurationMs: roundMs(end) - start,
		Velocity:   on.Velocity,
	}
}

func roundMs(d time.Duration) int64 {
	return int64(d.Round(time.Millisecond) / time.Millisecond)
}
