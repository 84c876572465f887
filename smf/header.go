// Package smf reads and writes Standard MIDI Files.
package smf

import (
	"errors"
	"fmt"
	"time"

	"go-remi/timing"
)

var (
	// ErrMalformedHeader means the file cannot be read at all.
	ErrMalformedHeader = errors.New("smf: malformed header")
	// ErrMalformedTrack means a track chunk holds bytes that are not MIDI.
	ErrMalformedTrack = errors.New("smf: malformed track")
	// ErrTruncatedTrack means a track ends in the middle of an event.
	ErrTruncatedTrack = errors.New("smf: truncated track")
)

const (
	headerMagic  = "MThd"
	trackMagic   = "MTrk"
	chunkHeadLen = 8
	headerLen    = 6
)

// Division is the division field of the MThd chunk: ticks per quarter note,
// or an SMPTE frame rate and ticks per frame when the top bit is set.
type Division uint16

// MetricDivision returns a ticks-per-quarter division.
func MetricDivision(ppq uint16) Division {
	return Division(ppq & 0x7FFF)
}

// IsSMPTE reports whether the division counts frames instead of beats.
func (d Division) IsSMPTE() bool {
	return d&0x8000 != 0
}

// TicksPerQuarter returns the PPQ, or 0 for SMPTE divisions.
func (d Division) TicksPerQuarter() int {
	if d.IsSMPTE() {
		return 0
	}
	return int(d)
}

// SMPTE returns the frames per second and ticks per frame, or 0, 0 for
// metric divisions. The frame rate is stored as a negative 8-bit number.
func (d Division) SMPTE() (fps, ticksPerFrame int) {
	if !d.IsSMPTE() {
		return 0, 0
	}
	return int(uint8(-int8(d >> 8))), int(d & 0xFF)
}

// Valid reports whether the division can be used to compute times.
func (d Division) Valid() bool {
	if d.IsSMPTE() {
		fps, tpf := d.SMPTE()
		return fps > 0 && tpf > 0
	}
	return d != 0
}

// TimeAt converts a tick to elapsed time using tempo for metric divisions.
// SMPTE divisions ignore the tempo map.
func (d Division) TimeAt(tempo *timing.TempoMap, tick int64) time.Duration {
	if d.IsSMPTE() {
		fps, tpf := d.SMPTE()
		return timing.SMPTETime(tick, fps, tpf)
	}
	return tempo.TimeAt(tick, d.TicksPerQuarter())
}

func (d Division) String() string {
	if !d.Valid() {
		return fmt.Sprintf("invalid division 0x%04x", uint16(d))
	}
	if d.IsSMPTE() {
		fps, tpf := d.SMPTE()
		return fmt.Sprintf("%d fps, %d ticks per frame", fps, tpf)
	}
	return fmt.Sprintf("%d ticks per quarter note", d.TicksPerQuarter())
}
