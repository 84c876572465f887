package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"go-remi/debug"
)

// ccAllNotesOff is the channel mode message that silences a channel.
const ccAllNotesOff = 123

type voice struct {
	ch    uint8
	pitch Pitch
}

// Output plays notes on a MIDI output port and remembers which voices are
// sounding so they can all be released at once.
type Output struct {
	name string
	send func(gomidi.Message) error

	mu       sync.Mutex
	voices   map[voice]struct{}
	channels map[uint8]bool
}

// OpenOutput opens the output port matching name (see Ports.FindOut).
func OpenOutput(name string) (*Output, error) {
	ports, err := ScanPorts(ScanTimeout)
	if err != nil {
		return nil, err
	}
	port, err := ports.FindOut(name)
	if err != nil {
		return nil, err
	}
	return OpenPort(port)
}

// OpenPort opens an already resolved output port.
func OpenPort(port drivers.Out) (*Output, error) {
	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", port.String(), err)
	}
	debug.Log("output", "opened %s", port.String())
	return NewOutput(port.String(), send), nil
}

// NewOutput wraps an arbitrary message sink, such as a gomidi sender.
func NewOutput(name string, send func(gomidi.Message) error) *Output {
	return &Output{
		name:     name,
		send:     send,
		voices:   make(map[voice]struct{}),
		channels: make(map[uint8]bool),
	}
}

// Name is the port name.
func (o *Output) Name() string {
	return o.name
}

// NoteOn starts a note. A velocity of zero is sent as a note off.
func (o *Output) NoteOn(ch uint8, p Pitch, vel uint8) error {
	if p > MaxPitch {
		return fmt.Errorf("note on %d: %w", p, ErrOutOfRange)
	}
	if vel == 0 {
		return o.NoteOff(ch, p)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.voices[voice{ch, p}] = struct{}{}
	o.channels[ch] = true
	return o.send(gomidi.NoteOn(ch, uint8(p), vel))
}

// NoteOff releases a note.
func (o *Output) NoteOff(ch uint8, p Pitch) error {
	if p > MaxPitch {
		return fmt.Errorf("note off %d: %w", p, ErrOutOfRange)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.voices, voice{ch, p})
	return o.send(gomidi.NoteOff(ch, uint8(p)))
}

// ReleaseAll sends a note off for every sounding voice, then All Notes Off
// on every channel that has been used. It keeps going past send errors and
// returns the first one.
func (o *Output) ReleaseAll() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for v := range o.voices {
		keep(o.send(gomidi.NoteOff(v.ch, uint8(v.pitch))))
		delete(o.voices, v)
	}
	for ch := range o.channels {
		keep(o.send(gomidi.ControlChange(ch, ccAllNotesOff, 0)))
	}
	return first
}

// ActiveVoices is the number of notes currently sounding.
func (o *Output) ActiveVoices() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.voices)
}

// Close silences the port.
func (o *Output) Close() error {
	return o.ReleaseAll()
}
