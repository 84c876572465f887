package sequencer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go-remi/debug"
	"go-remi/midi"
	"go-remi/timing"
)

// SynthesisEngine is whatever turns note events into sound. The scheduler
// does not own it; several schedulers may share one as long as only one of
// them is playing.
type SynthesisEngine interface {
	NoteOn(ch uint8, p midi.Pitch, vel uint8) error
	NoteOff(ch uint8, p midi.Pitch) error
	// ReleaseAll silences every voice, including ones the caller has
	// lost track of.
	ReleaseAll() error
}

var _ SynthesisEngine = (*midi.Output)(nil)

var (
	ErrNoTimeline = errors.New("sequencer: nothing loaded")
	ErrClosed     = errors.New("sequencer: scheduler closed")
)

const (
	// DefaultPollInterval is how often progress is reported while playing.
	DefaultPollInterval = 50 * time.Millisecond
	// MaxPollInterval bounds how late the end of a timeline can be noticed.
	MaxPollInterval = 100 * time.Millisecond
)

// State is the transport state of a scheduler.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Position is a snapshot of playback progress. Finished is set when the
// scheduler stopped itself at the end of the timeline, as opposed to being
// stopped by the caller.
type Position struct {
	Offset   time.Duration
	Duration time.Duration
	State    State
	Finished bool
}

// Progress is the fraction of the timeline played, 0 to 1.
func (p Position) Progress() float64 {
	if p.Duration <= 0 {
		return 0
	}
	f := float64(p.Offset) / float64(p.Duration)
	if f > 1 {
		return 1
	}
	return f
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Name string // for logs
	// PollInterval is the progress polling period, clamped to
	// MaxPollInterval. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// OnProgress is called after every poll while playing, and on every
	// state change. It runs without the scheduler lock held.
	OnProgress func(Position)
	// OnFinish is called once when playback reaches the end by itself.
	OnFinish func(Position)
}

type voiceKey struct {
	ch    uint8
	pitch midi.Pitch
}

// Scheduler plays a timeline on a SynthesisEngine against a Clock.
//
// All state lives behind one mutex and every clock callback takes it
// before doing anything, so scheduled events, polls and caller commands
// form a single ordered sequence. Each play session has a number; callbacks
// from an earlier session find the number changed and do nothing, so no
// event can fire after the Stop, Seek or Pause that cancelled it returns.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	engine SynthesisEngine
	opts   SchedulerOptions

	timeline *timing.Timeline
	state    State
	offset   time.Duration // position when not playing, start offset while playing
	startRef time.Duration // clock time playback started
	finished bool
	closed   bool

	session uint64
	handles map[Handle]struct{}
	poll    Handle
	voices  map[voiceKey]struct{}

	fired  int
	failed int

	// Notify UI of updates
	UpdateChan chan struct{}
}

// NewScheduler creates a stopped scheduler with nothing loaded.
func NewScheduler(clock Clock, engine SynthesisEngine, opts SchedulerOptions) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollInterval > MaxPollInterval {
		opts.PollInterval = MaxPollInterval
	}
	if opts.Name == "" {
		opts.Name = "deck"
	}
	return &Scheduler{
		clock:      clock,
		engine:     engine,
		opts:       opts,
		handles:    make(map[Handle]struct{}),
		voices:     make(map[voiceKey]struct{}),
		UpdateChan: make(chan struct{}, 1),
	}
}

// Load stops playback, resets the position and replaces the timeline.
func (s *Scheduler) Load(tl *timing.Timeline) {
	s.mu.Lock()
	s.haltLocked()
	s.timeline = tl
	s.state = Stopped
	s.offset = 0
	s.finished = false
	pos := s.positionLocked()
	s.mu.Unlock()

	debug.Log("sched", "%s: loaded %d events, %v", s.opts.Name, s.eventCount(tl), pos.Duration)
	s.notify(pos, false)
}

func (s *Scheduler) eventCount(tl *timing.Timeline) int {
	if tl == nil {
		return 0
	}
	return len(tl.Events)
}

// Timeline returns the loaded timeline, or nil.
func (s *Scheduler) Timeline() *timing.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

// Play starts playback from offset from, clamped to the timeline. Anything
// already scheduled is cancelled and every voice is released first.
func (s *Scheduler) Play(from time.Duration) error {
	s.mu.Lock()
	if err := s.playLocked(from); err != nil {
		s.mu.Unlock()
		return err
	}
	pos := s.positionLocked()
	s.mu.Unlock()
	s.notify(pos, false)
	return nil
}

func (s *Scheduler) playLocked(from time.Duration) error {
	if s.closed {
		return ErrClosed
	}
	if s.timeline == nil {
		return ErrNoTimeline
	}
	s.haltLocked()

	from = s.clampLocked(from)
	s.session++
	session := s.session
	s.state = Playing
	s.finished = false
	s.offset = from
	s.startRef = s.clock.Now()

	scheduled := 0
	for _, e := range s.timeline.Events {
		if e.Time < from {
			continue
		}
		e := e
		h := new(Handle)
		*h = s.clock.ScheduleAt(s.startRef+e.Time-from, func() { s.fire(session, h, e) })
		s.handles[*h] = struct{}{}
		scheduled++
	}
	s.armPollLocked(session)

	debug.Log("sched", "%s: play from %v, %d events scheduled", s.opts.Name, from, scheduled)
	return nil
}

func (s *Scheduler) armPollLocked(session uint64) {
	s.poll = s.clock.ScheduleAt(s.clock.Now()+s.opts.PollInterval, func() { s.tick(session) })
}

// fire plays one event. It runs with the lock held so a concurrent Stop
// cannot release voices between the check and the note.
func (s *Scheduler) fire(session uint64, h *Handle, e midi.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != s.session || s.state != Playing {
		return
	}
	delete(s.handles, *h)

	key := voiceKey{e.Channel, e.Pitch}
	switch e.Kind {
	case midi.KindNoteOn:
		if _, sounding := s.voices[key]; sounding {
			// Retrigger: never two voices on one pitch.
			s.call("retrigger off", e, func() error { return s.engine.NoteOff(e.Channel, e.Pitch) })
			delete(s.voices, key)
		}
		if s.call("note on", e, func() error { return s.engine.NoteOn(e.Channel, e.Pitch, e.Velocity) }) {
			s.voices[key] = struct{}{}
		}
	case midi.KindNoteOff:
		if _, sounding := s.voices[key]; !sounding {
			return
		}
		delete(s.voices, key)
		s.call("note off", e, func() error { return s.engine.NoteOff(e.Channel, e.Pitch) })
	default:
		return
	}
	s.fired++
}

// call runs an engine command, logging instead of propagating failures so
// one bad event cannot stop the rest of the timeline.
func (s *Scheduler) call(what string, e midi.Event, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.failed++
			debug.Log("sched", "%s: %s %v panicked: %v", s.opts.Name, what, e, r)
			ok = false
		}
	}()
	if e.Pitch > midi.MaxPitch {
		s.failed++
		debug.Log("sched", "%s: %s: pitch %d out of range", s.opts.Name, what, e.Pitch)
		return false
	}
	if err := fn(); err != nil {
		s.failed++
		debug.Log("sched", "%s: %s %v: %v", s.opts.Name, what, e, err)
		return false
	}
	return true
}

// tick is the progress poll. At the end of the timeline it stops with the
// position pinned to the duration and reports Finished.
func (s *Scheduler) tick(session uint64) {
	s.mu.Lock()
	if session != s.session || s.state != Playing {
		s.mu.Unlock()
		return
	}

	elapsed := s.offset + (s.clock.Now() - s.startRef)
	if elapsed >= s.timeline.Duration {
		s.haltLocked()
		s.state = Stopped
		s.offset = s.timeline.Duration
		s.finished = true
		pos := s.positionLocked()
		s.mu.Unlock()

		debug.Log("sched", "%s: finished at %v (%d fired, %d failed)", s.opts.Name, pos.Offset, s.fired, s.failed)
		s.notify(pos, true)
		return
	}

	s.armPollLocked(session)
	pos := s.positionLocked()
	s.mu.Unlock()
	s.notify(pos, false)
}

// Pause stops playback and keeps the position for Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.state != Playing {
		s.mu.Unlock()
		return
	}
	s.offset = s.elapsedLocked()
	s.haltLocked()
	s.state = Paused
	pos := s.positionLocked()
	s.mu.Unlock()

	debug.Log("sched", "%s: paused at %v", s.opts.Name, pos.Offset)
	s.notify(pos, false)
}

// Resume continues from the paused position. It does nothing unless paused.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	if s.state != Paused {
		s.mu.Unlock()
		return nil
	}
	if err := s.playLocked(s.offset); err != nil {
		s.mu.Unlock()
		return err
	}
	pos := s.positionLocked()
	s.mu.Unlock()
	s.notify(pos, false)
	return nil
}

// Seek moves to offset to. While playing this reschedules from there;
// otherwise it only moves the stored position.
func (s *Scheduler) Seek(to time.Duration) error {
	s.mu.Lock()
	var err error
	if s.state == Playing {
		err = s.playLocked(to)
	} else {
		s.offset = s.clampLocked(to)
		s.finished = false
	}
	pos := s.positionLocked()
	s.mu.Unlock()

	if err == nil {
		debug.Log("sched", "%s: seek to %v", s.opts.Name, pos.Offset)
		s.notify(pos, false)
	}
	return err
}

// Stop cancels everything scheduled and releases every voice. With
// resetToZero the position returns to the start, otherwise it stays where
// playback was.
func (s *Scheduler) Stop(resetToZero bool) {
	s.mu.Lock()
	if s.state == Playing {
		s.offset = s.elapsedLocked()
	}
	s.haltLocked()
	s.state = Stopped
	s.finished = false
	if resetToZero {
		s.offset = 0
	}
	pos := s.positionLocked()
	s.mu.Unlock()
	s.notify(pos, false)
}

// Close stops playback for good.
func (s *Scheduler) Close() {
	s.Stop(false)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// haltLocked cancels every outstanding callback and releases all voices.
// Bumping the session makes any callback already past the clock a no-op.
func (s *Scheduler) haltLocked() {
	for h := range s.handles {
		s.clock.Cancel(h)
	}
	if len(s.handles) > 0 {
		s.handles = make(map[Handle]struct{})
	}
	if s.poll != 0 {
		s.clock.Cancel(s.poll)
		s.poll = 0
	}
	s.session++

	if s.state == Playing || len(s.voices) > 0 {
		s.call("release all", midi.Event{}, s.engine.ReleaseAll)
	}
	clear(s.voices)
}

func (s *Scheduler) elapsedLocked() time.Duration {
	return s.clampLocked(s.offset + (s.clock.Now() - s.startRef))
}

func (s *Scheduler) clampLocked(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if s.timeline != nil && d > s.timeline.Duration {
		return s.timeline.Duration
	}
	return d
}

// Position reports the current playback position.
func (s *Scheduler) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *Scheduler) positionLocked() Position {
	pos := Position{Offset: s.offset, State: s.state, Finished: s.finished}
	if s.timeline != nil {
		pos.Duration = s.timeline.Duration
	}
	if s.state == Playing {
		pos.Offset = s.elapsedLocked()
	}
	return pos
}

// State returns the transport state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveVoices is the number of notes this scheduler has sounding.
func (s *Scheduler) ActiveVoices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// Pending is the number of event callbacks still scheduled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Stats returns how many events fired and how many engine calls failed.
func (s *Scheduler) Stats() (fired, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired, s.failed
}

func (s *Scheduler) notify(pos Position, finished bool) {
	select {
	case s.UpdateChan <- struct{}{}:
	default:
	}
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(pos)
	}
	if finished && s.opts.OnFinish != nil {
		s.opts.OnFinish(pos)
	}
}
