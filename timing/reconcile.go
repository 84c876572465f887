package timing

import (
	"sort"
	"time"

	"go-remi/midi"
)

const (
	// MinDuration is the shortest playback length reported for any sequence.
	MinDuration = time.Second
	// DriftTolerance is how far two duration estimates may disagree before
	// the event-derived one is trusted outright.
	DriftTolerance = time.Second
)

// NormalizeEventTimes shifts every event so the earliest one across all
// tracks is at time zero. The input is not modified.
func NormalizeEventTimes(tracks [][]midi.Event) [][]midi.Event {
	min, ok := minTime(tracks)
	out := make([][]midi.Event, len(tracks))
	for i, tr := range tracks {
		out[i] = make([]midi.Event, len(tr))
		copy(out[i], tr)
		if !ok {
			continue
		}
		for j := range out[i] {
			out[i][j].Time -= min
		}
	}
	return out
}

// ComputeDuration is the span between the first and last event, but never
// less than MinDuration.
func ComputeDuration(tracks [][]midi.Event) time.Duration {
	min, ok := minTime(tracks)
	if !ok {
		return MinDuration
	}
	var max time.Duration
	for _, tr := range tracks {
		for _, e := range tr {
			if e.Time > max {
				max = e.Time
			}
		}
	}
	if d := max - min; d > MinDuration {
		return d
	}
	return MinDuration
}

// LastNoteTime is the time of the last note event, ignoring trailing tempo
// changes and anything else that makes no sound.
func LastNoteTime(tracks [][]midi.Event) time.Duration {
	var last time.Duration
	for _, tr := range tracks {
		for _, e := range tr {
			if e.IsNote() && e.Time > last {
				last = e.Time
			}
		}
	}
	return last
}

// ReconcileDuration picks between a declared duration (for example the
// file's end-of-track position) and one derived from the events. When they
// disagree by more than DriftTolerance the derived value wins, since the
// declared one is usually inflated by trailing silent events. Otherwise the
// smaller of the two is used. A non-positive value on either side yields the
// other.
func ReconcileDuration(declared, derived time.Duration) time.Duration {
	switch {
	case declared <= 0:
		return derived
	case derived <= 0:
		return declared
	}
	diff := declared - derived
	if diff < 0 {
		diff = -diff
	}
	if diff > DriftTolerance {
		return derived
	}
	if declared < derived {
		return declared
	}
	return derived
}

func minTime(tracks [][]midi.Event) (time.Duration, bool) {
	var min time.Duration
	found := false
	for _, tr := range tracks {
		for _, e := range tr {
			if !found || e.Time < min {
				min = e.Time
				found = true
			}
		}
	}
	return min, found
}

// Timeline is everything a scheduler needs to play a sequence: note events
// in firing order starting at zero, and the total length.
type Timeline struct {
	Events   []midi.Event
	Duration time.Duration
}

// NewTimeline keeps the note events of tracks, normalizes them to start at
// zero and orders them for playback. declared is an optional duration
// estimate from another source; zero means none.
func NewTimeline(tracks [][]midi.Event, declared time.Duration) *Timeline {
	notes := onlyNotes(tracks)
	offset, _ := minTime(notes)
	notes = NormalizeEventTimes(notes)

	var flat []midi.Event
	for _, tr := range notes {
		flat = append(flat, tr...)
	}
	SortEvents(flat)

	derived := ComputeDuration(notes)
	if declared > 0 {
		declared -= offset
	}
	return &Timeline{
		Events:   flat,
		Duration: ReconcileDuration(declared, derived),
	}
}

// TimelineFromNotes builds a timeline straight from recorded notes, without
// a round trip through the file format. Velocity 0 notes play at vel.
func TimelineFromNotes(notes []midi.Note, channel, vel uint8) *Timeline {
	events := make([]midi.Event, 0, len(notes)*2)
	for _, n := range notes {
		if !n.Valid() {
			continue
		}
		v := n.Velocity
		if v == 0 {
			v = vel
		}
		start := time.Duration(n.StartMs) * time.Millisecond
		end := time.Duration(n.EndMs()) * time.Millisecond
		events = append(events,
			midi.Event{Kind: midi.KindNoteOn, Time: start, Channel: channel, Pitch: n.Pitch, Velocity: v},
			midi.Event{Kind: midi.KindNoteOff, Time: end, Channel: channel, Pitch: n.Pitch},
		)
	}
	return NewTimeline([][]midi.Event{events}, 0)
}

type voiceKey struct {
	ch    uint8
	pitch midi.Pitch
}

// onlyNotes keeps the note events of each track. A note released at the
// instant it starts is dropped as a pair: sorting puts offs before ons at
// equal times, which would leave its on with nothing to end it.
func onlyNotes(tracks [][]midi.Event) [][]midi.Event {
	dst := make([][]midi.Event, len(tracks))
	for i, tr := range tracks {
		var kept []midi.Event
		var drop []bool
		open := make(map[voiceKey][]int) // indexes into kept of unreleased ons
		for _, e := range tr {
			if !e.IsNote() {
				continue
			}
			key := voiceKey{e.Channel, e.Pitch}
			if e.Kind == midi.KindNoteOn {
				open[key] = append(open[key], len(kept))
			} else if q := open[key]; len(q) > 0 {
				on := q[0]
				open[key] = q[1:]
				if kept[on].Time == e.Time {
					drop[on] = true
					continue
				}
			}
			kept = append(kept, e)
			drop = append(drop, false)
		}
		for j, e := range kept {
			if !drop[j] {
				dst[i] = append(dst[i], e)
			}
		}
	}
	return dst
}

// SortEvents orders events by time, then note-offs before note-ons, then by
// pitch, then by track. The sort is stable so identical events keep their
// decode order.
func SortEvents(events []midi.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if ra, rb := kindRank(a.Kind), kindRank(b.Kind); ra != rb {
			return ra < rb
		}
		if a.Pitch != b.Pitch {
			return a.Pitch < b.Pitch
		}
		return a.Track < b.Track
	})
}

func kindRank(k midi.Kind) int {
	switch k {
	case midi.KindTempo:
		return 0
	case midi.KindNoteOff:
		return 1
	}
	return 2
}
