package midi

import "errors"

var (
	// ErrInvalidInput is returned for values a VLQ cannot carry.
	ErrInvalidInput = errors.New("midi: invalid input")
	// ErrTruncatedData is returned when a VLQ runs off the end of the buffer.
	ErrTruncatedData = errors.New("midi: truncated data")
	// ErrInvalidNoteName is returned for strings that are not scientific pitch names.
	ErrInvalidNoteName = errors.New("midi: invalid note name")
	// ErrOutOfRange is returned for note numbers outside 0-127.
	ErrOutOfRange = errors.New("midi: note out of range")
)
