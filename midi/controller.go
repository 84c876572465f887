package midi

import "time"

// ControllerType identifies the kind of controller
type ControllerType int

const (
	ControllerUnknown ControllerType = iota
	ControllerKeyboard
)

// NoteEvent is sent when a key is pressed or released on a keyboard.
// At is the time the driver saw the message, relative to when the port
// was opened.
type NoteEvent struct {
	On       bool
	Note     Pitch
	Velocity uint8
	Channel  uint8
	At       time.Duration
}

// Controller is the interface for MIDI input devices
type Controller interface {
	ID() string
	Type() ControllerType
	NoteEvents() <-chan NoteEvent
	Close() error
}
