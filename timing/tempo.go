// Package timing converts between ticks and wall-clock time and prepares
// decoded events for playback.
package timing

import (
	"fmt"
	"sort"
	"time"
)

// DefaultTempo is 120 BPM, the tempo of any file that does not say otherwise.
const DefaultTempo uint32 = 500000

// TempoChange sets the tempo, in microseconds per quarter note, from Tick on.
type TempoChange struct {
	Tick             int64
	MicrosPerQuarter uint32
}

// BPM converts the change to beats per minute.
func (c TempoChange) BPM() float64 {
	return 60e6 / float64(c.MicrosPerQuarter)
}

// TempoMap is an ordered list of tempo changes. It always has an entry at
// tick 0 and tick positions are strictly increasing.
type TempoMap struct {
	entries []TempoChange
}

// NewTempoMap builds a map from changes in any order. When two changes share
// a tick the later one in the argument list wins. Changes with a zero tempo
// are ignored.
func NewTempoMap(changes ...TempoChange) *TempoMap {
	m := &TempoMap{entries: []TempoChange{{Tick: 0, MicrosPerQuarter: DefaultTempo}}}
	sorted := make([]TempoChange, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tick < sorted[j].Tick })
	for _, c := range sorted {
		m.Set(c.Tick, c.MicrosPerQuarter)
	}
	return m
}

// Set records a tempo change at tick, replacing any change already there.
func (m *TempoMap) Set(tick int64, microsPerQuarter uint32) {
	if microsPerQuarter == 0 || tick < 0 {
		return
	}
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Tick >= tick })
	if i < len(m.entries) && m.entries[i].Tick == tick {
		m.entries[i].MicrosPerQuarter = microsPerQuarter
		return
	}
	m.entries = append(m.entries, TempoChange{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = TempoChange{Tick: tick, MicrosPerQuarter: microsPerQuarter}
}

// Entries returns a copy of the changes in tick order.
func (m *TempoMap) Entries() []TempoChange {
	out := make([]TempoChange, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len is the number of entries, including the implicit one at tick 0.
func (m *TempoMap) Len() int {
	return len(m.entries)
}

// segment returns the index of the entry in force at tick.
func (m *TempoMap) segment(tick int64) int {
	return sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Tick > tick }) - 1
}

// TempoAt returns the microseconds per quarter note in force at tick.
func (m *TempoMap) TempoAt(tick int64) uint32 {
	if tick < 0 {
		tick = 0
	}
	return m.entries[m.segment(tick)].MicrosPerQuarter
}

// BPMAt returns the tempo at tick in beats per minute.
func (m *TempoMap) BPMAt(tick int64) float64 {
	return 60e6 / float64(m.TempoAt(tick))
}

// TimeAt converts an absolute tick to elapsed time by summing each tempo
// segment up to tick, with ppq ticks per quarter note.
func (m *TempoMap) TimeAt(tick int64, ppq int) time.Duration {
	if tick <= 0 || ppq <= 0 {
		return 0
	}
	var total time.Duration
	for i, e := range m.entries {
		if e.Tick >= tick {
			break
		}
		end := tick
		if i+1 < len(m.entries) && m.entries[i+1].Tick < tick {
			end = m.entries[i+1].Tick
		}
		total += ticksToDuration(end-e.Tick, e.MicrosPerQuarter, ppq)
	}
	return total
}

// TickAt is the inverse of TimeAt, rounding down to a whole tick.
func (m *TempoMap) TickAt(d time.Duration, ppq int) int64 {
	if d <= 0 || ppq <= 0 {
		return 0
	}
	var elapsed time.Duration
	for i, e := range m.entries {
		if i+1 < len(m.entries) {
			next := m.entries[i+1]
			seg := ticksToDuration(next.Tick-e.Tick, e.MicrosPerQuarter, ppq)
			if elapsed+seg <= d {
				elapsed += seg
				continue
			}
		}
		rem := d - elapsed
		// rem(ns) * ppq / (tempo(us) * 1000)
		return e.Tick + int64(rem)*int64(ppq)/(int64(e.MicrosPerQuarter)*1000)
	}
	return 0
}

// ticksToDuration converts ticks at a fixed tempo without overflowing for
// long files.
func ticksToDuration(ticks int64, microsPerQuarter uint32, ppq int) time.Duration {
	q, r := ticks/int64(ppq), ticks%int64(ppq)
	ns := q*int64(microsPerQuarter)*1000 + r*int64(microsPerQuarter)*1000/int64(ppq)
	return time.Duration(ns)
}

// SMPTETime converts a tick to time for SMPTE divisions, where a tick is a
// fixed fraction of a frame and tempo has no effect. fps 29 means 29.97
// drop-frame.
func SMPTETime(tick int64, fps, ticksPerFrame int) time.Duration {
	if tick <= 0 || fps <= 0 || ticksPerFrame <= 0 {
		return 0
	}
	rate := float64(fps)
	if fps == 29 {
		rate = 29.97
	}
	return time.Duration(float64(tick) / (rate * float64(ticksPerFrame)) * float64(time.Second))
}

func (m *TempoMap) String() string {
	s := ""
	for i, e := range m.entries {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d:%.2fbpm", e.Tick, e.BPM())
	}
	return s
}
