package sequencer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go-remi/debug"
	"go-remi/midi"
)

type heldNote struct {
	id       string
	start    time.Duration
	velocity uint8
}

// Recorder turns live note starts and ends into notes with millisecond
// offsets from the moment recording started. One note per pitch can be held;
// starting a pitch that is already held ends the earlier note.
type Recorder struct {
	mu        sync.Mutex
	clock     Clock
	recording bool
	start     time.Duration
	pending   map[midi.Pitch]heldNote
	notes     []midi.Note
}

// NewRecorder creates an idle recorder timed by clock.
func NewRecorder(clock Clock) *Recorder {
	return &Recorder{
		clock:   clock,
		pending: make(map[midi.Pitch]heldNote),
	}
}

// Start begins a new take, discarding anything recorded before.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.start = r.clock.Now()
	r.notes = nil
	clear(r.pending)
	debug.Log("record", "start")
}

// Recording reports whether a take is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// NoteStart marks pitch as pressed now and returns the ID that correlates
// it with its end. It returns "" when not recording.
func (r *Recorder) NoteStart(p midi.Pitch, velocity uint8) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return ""
	}
	now := r.clock.Now() - r.start
	if _, held := r.pending[p]; held {
		r.finishLocked(p, now)
	}
	id := fmt.Sprintf("%d-%d", p, now.Milliseconds())
	r.pending[p] = heldNote{id: id, start: now, velocity: velocity}
	return id
}

// NoteEnd releases pitch. The finished note is returned; ok is false when
// the pitch was not held or the note had no length.
func (r *Recorder) NoteEnd(p midi.Pitch) (n midi.Note, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return midi.Note{}, false
	}
	return r.finishLocked(p, r.clock.Now()-r.start)
}

func (r *Recorder) finishLocked(p midi.Pitch, at time.Duration) (midi.Note, bool) {
	h, held := r.pending[p]
	if !held {
		return midi.Note{}, false
	}
	delete(r.pending, p)

	n := midi.Note{
		ID:         h.id,
		Pitch:      p,
		StartMs:    h.start.Milliseconds(),
		DurationMs: (at - h.start).Milliseconds(),
		Velocity:   h.velocity,
	}
	if !n.Valid() {
		debug.Log("record", "dropping zero-length note %s", h.id)
		return midi.Note{}, false
	}
	r.notes = append(r.notes, n)
	return n, true
}

// Stop ends the take. Notes still held end now. The result is ordered by
// start time, then pitch.
func (r *Recorder) Stop() []midi.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return r.sortedLocked()
	}
	now := r.clock.Now() - r.start
	for p := range r.pending {
		r.finishLocked(p, now)
	}
	r.recording = false
	debug.Log("record", "stop: %d notes", len(r.notes))
	return r.sortedLocked()
}

// Notes returns the completed notes so far.
func (r *Recorder) Notes() []midi.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Recorder) sortedLocked() []midi.Note {
	out := append([]midi.Note(nil), r.notes...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartMs != out[j].StartMs {
			return out[i].StartMs < out[j].StartMs
		}
		return out[i].Pitch < out[j].Pitch
	})
	return out
}

// Run records note events until ctx is done or events closes. When monitor
// is set every event is also played on it so the performer hears
// themselves.
func (r *Recorder) Run(ctx context.Context, events <-chan midi.NoteEvent, monitor SynthesisEngine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ev, monitor)
		}
	}
}

func (r *Recorder) handle(ev midi.NoteEvent, monitor SynthesisEngine) {
	if ev.On {
		r.NoteStart(ev.Note, ev.Velocity)
	} else {
		r.NoteEnd(ev.Note)
	}
	if monitor == nil {
		return
	}
	var err error
	if ev.On {
		err = monitor.NoteOn(ev.Channel, ev.Note, ev.Velocity)
	} else {
		err = monitor.NoteOff(ev.Channel, ev.Note)
	}
	if err != nil {
		debug.Log("record", "monitor: %v", err)
	}
}
