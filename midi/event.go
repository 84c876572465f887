package midi

import (
	"fmt"
	"time"
)

// Kind tags the variant held by an Event.
type Kind uint8

const (
	KindNoteOff Kind = iota
	KindNoteOn
	KindTempo
)

func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "note-on"
	case KindNoteOff:
		return "note-off"
	case KindTempo:
		return "tempo"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Channel voice status bytes (high nibble).
const (
	StatusNoteOff       uint8 = 0x80
	StatusNoteOn        uint8 = 0x90
	StatusPolyPressure  uint8 = 0xA0
	StatusControlChange uint8 = 0xB0
	StatusProgram       uint8 = 0xC0
	StatusChanPressure  uint8 = 0xD0
	StatusPitchBend     uint8 = 0xE0
)

// Event is a decoded timeline event. NoteOn and NoteOff carry Channel,
// Pitch and Velocity; Tempo carries Tempo in microseconds per quarter note.
// Events are values and are never modified after decoding; operations that
// shift times return copies.
type Event struct {
	Kind     Kind
	Tick     int64
	Time     time.Duration
	Track    int
	Channel  uint8
	Pitch    Pitch
	Velocity uint8
	Tempo    uint32
}

// IsNote reports whether the event sounds or releases a note.
func (e Event) IsNote() bool {
	return e.Kind == KindNoteOn || e.Kind == KindNoteOff
}

func (e Event) String() string {
	switch e.Kind {
	case KindTempo:
		return fmt.Sprintf("%v tick=%d tempo=%dus", e.Time, e.Tick, e.Tempo)
	default:
		return fmt.Sprintf("%v tick=%d %s ch=%d %s vel=%d", e.Time, e.Tick, e.Kind, e.Channel, e.Pitch, e.Velocity)
	}
}
