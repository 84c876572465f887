package sequencer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-remi/midi"
	"go-remi/timing"
)

type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	sounding map[midi.Pitch]bool
	failOn   midi.Pitch
	releases int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sounding: make(map[midi.Pitch]bool)}
}

func (f *fakeEngine) NoteOn(ch uint8, p midi.Pitch, vel uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != 0 && p == f.failOn {
		return errors.New("engine refused")
	}
	f.calls = append(f.calls, fmt.Sprintf("on %d", p))
	f.sounding[p] = true
	return nil
}

func (f *fakeEngine) NoteOff(ch uint8, p midi.Pitch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("off %d", p))
	delete(f.sounding, p)
	return nil
}

func (f *fakeEngine) ReleaseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "release")
	f.releases++
	clear(f.sounding)
	return nil
}

func (f *fakeEngine) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) count(call string) int {
	n := 0
	for _, c := range f.log() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEngine) voices() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sounding)
}

const ms = time.Millisecond

// twoNotes is C4 for the first half second and E4 for the second.
func twoNotes() *timing.Timeline {
	return timing.TimelineFromNotes([]midi.Note{
		{Pitch: 60, StartMs: 0, DurationMs: 500, Velocity: 100},
		{Pitch: 64, StartMs: 500, DurationMs: 500, Velocity: 100},
	}, 0, 100)
}

func newTestScheduler(opts SchedulerOptions) (*Scheduler, *ManualClock, *fakeEngine) {
	clock := NewManualClock()
	engine := newFakeEngine()
	s := NewScheduler(clock, engine, opts)
	s.Load(twoNotes())
	return s, clock, engine
}

func advanceBy(clock *ManualClock, total, step time.Duration) {
	for d := time.Duration(0); d < total; d += step {
		clock.Advance(step)
	}
}

func TestPlayToEnd(t *testing.T) {
	var finishes []Position
	s, clock, engine := newTestScheduler(SchedulerOptions{
		OnFinish: func(p Position) { finishes = append(finishes, p) },
	})

	if err := s.Play(0); err != nil {
		t.Fatal(err)
	}
	if s.State() != Playing {
		t.Fatalf("state = %v", s.State())
	}
	advanceBy(clock, 1000*ms, 50*ms)

	pos := s.Position()
	if pos.State != Stopped || !pos.Finished {
		t.Errorf("position = %+v, want finished and stopped", pos)
	}
	if pos.Offset != 1000*ms || pos.Duration != 1000*ms {
		t.Errorf("offset %v duration %v, want 1s/1s", pos.Offset, pos.Duration)
	}
	if pos.Progress() != 1 {
		t.Errorf("progress = %v", pos.Progress())
	}
	if s.ActiveVoices() != 0 || engine.voices() != 0 {
		t.Errorf("voices left sounding: scheduler %d engine %d", s.ActiveVoices(), engine.voices())
	}
	if len(finishes) != 1 {
		t.Fatalf("OnFinish called %d times", len(finishes))
	}

	want := []string{"on 60", "off 60", "on 64", "off 64", "release"}
	got := engine.log()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("engine calls = %v, want %v", got, want)
	}
	if clock.Pending() != 0 {
		t.Errorf("%d callbacks still pending", clock.Pending())
	}

	// Later time passing changes nothing.
	clock.Advance(time.Second)
	if len(finishes) != 1 || len(engine.log()) != len(want) {
		t.Error("activity after finish")
	}
}

func TestPollIntervalCapped(t *testing.T) {
	s, clock, _ := newTestScheduler(SchedulerOptions{PollInterval: time.Second})
	if err := s.Play(0); err != nil {
		t.Fatal(err)
	}
	clock.Advance(1000 * ms)
	if pos := s.Position(); !pos.Finished {
		t.Errorf("not finished at the end with a capped poll: %+v", pos)
	}
}

func TestProgressReported(t *testing.T) {
	var mu sync.Mutex
	var offsets []time.Duration
	s, clock, _ := newTestScheduler(SchedulerOptions{
		PollInterval: 100 * ms,
		OnProgress: func(p Position) {
			mu.Lock()
			offsets = append(offsets, p.Offset)
			mu.Unlock()
		},
	})
	s.Play(0)
	clock.Advance(300 * ms)

	mu.Lock()
	defer mu.Unlock()
	// Load, Play, then polls at 100, 200 and 300.
	want := []time.Duration{0, 0, 100 * ms, 200 * ms, 300 * ms}
	if fmt.Sprint(offsets) != fmt.Sprint(want) {
		t.Errorf("progress offsets = %v, want %v", offsets, want)
	}
	select {
	case <-s.UpdateChan:
	default:
		t.Error("no update signalled")
	}
}

func TestSeekWhilePlaying(t *testing.T) {
	s, clock, engine := newTestScheduler(SchedulerOptions{})
	s.Play(0)
	clock.Advance(250 * ms)
	if engine.count("on 60") != 1 {
		t.Fatalf("C4 not sounding at 250ms: %v", engine.log())
	}

	if err := s.Seek(400 * ms); err != nil {
		t.Fatal(err)
	}
	if pos := s.Position(); pos.Offset != 400*ms || pos.State != Playing {
		t.Errorf("after seek: %+v", pos)
	}
	if s.ActiveVoices() != 0 {
		t.Error("voices kept across seek")
	}

	seekAt := len(engine.log())
	advanceBy(clock, 600*ms, 50*ms)

	after := engine.log()[seekAt:]
	want := []string{"on 64", "off 64", "release"}
	if fmt.Sprint(after) != fmt.Sprint(want) {
		t.Errorf("calls after seek = %v, want %v", after, want)
	}
	if engine.count("on 60") != 1 {
		t.Error("C4 played twice")
	}
	if pos := s.Position(); !pos.Finished || pos.Offset != 1000*ms {
		t.Errorf("end position = %+v", pos)
	}
}

func TestSeekClamps(t *testing.T) {
	s, _, _ := newTestScheduler(SchedulerOptions{})
	s.Seek(-time.Second)
	if got := s.Position().Offset; got != 0 {
		t.Errorf("seek below zero gave %v", got)
	}
	s.Seek(time.Hour)
	if got := s.Position().Offset; got != time.Second {
		t.Errorf("seek past end gave %v", got)
	}
	if s.State() != Stopped {
		t.Error("seek while stopped started playback")
	}
}

func TestPauseResume(t *testing.T) {
	s, clock, engine := newTestScheduler(SchedulerOptions{})
	s.Play(0)
	clock.Advance(250 * ms)

	s.Pause()
	if pos := s.Position(); pos.State != Paused || pos.Offset != 250*ms {
		t.Fatalf("after pause: %+v", pos)
	}
	if engine.voices() != 0 {
		t.Error("notes sounding while paused")
	}
	if s.Pending() != 0 {
		t.Errorf("%d events still scheduled while paused", s.Pending())
	}

	pausedAt := len(engine.log())
	clock.Advance(5 * time.Second)
	if len(engine.log()) != pausedAt {
		t.Errorf("engine used while paused: %v", engine.log()[pausedAt:])
	}
	if got := s.Position().Offset; got != 250*ms {
		t.Errorf("position moved while paused: %v", got)
	}

	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(250 * ms)
	if pos := s.Position(); pos.Offset != 500*ms {
		t.Errorf("resumed position = %v, want 500ms", pos.Offset)
	}
	advanceBy(clock, 500*ms, 50*ms)

	if !s.Position().Finished {
		t.Error("did not finish after resume")
	}
	if engine.count("on 64") != 1 || engine.count("on 60") != 1 {
		t.Errorf("engine calls = %v", engine.log())
	}
	if engine.voices() != 0 {
		t.Error("stuck notes")
	}
}

func TestResumeWhenNotPaused(t *testing.T) {
	s, _, engine := newTestScheduler(SchedulerOptions{})
	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Stopped || len(engine.log()) != 0 {
		t.Error("resume from stopped did something")
	}
}

func TestStop(t *testing.T) {
	s, clock, engine := newTestScheduler(SchedulerOptions{})
	s.Play(0)
	clock.Advance(300 * ms)

	s.Stop(false)
	if pos := s.Position(); pos.State != Stopped || pos.Offset != 300*ms || pos.Finished {
		t.Errorf("stop(false): %+v", pos)
	}
	if engine.voices() != 0 || clock.Pending() != 0 {
		t.Error("stop left voices or callbacks")
	}

	n := len(engine.log())
	clock.Advance(time.Second)
	if len(engine.log()) != n {
		t.Error("events fired after stop")
	}

	s.Play(s.Position().Offset)
	clock.Advance(100 * ms)
	s.Stop(true)
	if got := s.Position().Offset; got != 0 {
		t.Errorf("stop(true) left offset at %v", got)
	}
}

func TestPlayRestarts(t *testing.T) {
	s, clock, engine := newTestScheduler(SchedulerOptions{})
	s.Play(0)
	clock.Advance(100 * ms)
	s.Play(0)
	if engine.voices() != 0 {
		t.Error("restart kept old voices")
	}
	advanceBy(clock, time.Second, 50*ms)
	if engine.count("on 60") != 2 {
		t.Errorf("C4 on count = %d, want 2", engine.count("on 60"))
	}
	if engine.voices() != 0 {
		t.Error("stuck notes")
	}
}

func TestPlayErrors(t *testing.T) {
	s := NewScheduler(NewManualClock(), newFakeEngine(), SchedulerOptions{})
	if err := s.Play(0); !errors.Is(err, ErrNoTimeline) {
		t.Errorf("play with nothing loaded: %v", err)
	}
	s.Load(twoNotes())
	s.Close()
	if err := s.Play(0); !errors.Is(err, ErrClosed) {
		t.Errorf("play after close: %v", err)
	}
}

func TestEngineFailureSkipsEvent(t *testing.T) {
	s, clock, engine := newTestScheduler(SchedulerOptions{})
	engine.failOn = 60
	s.Play(0)
	advanceBy(clock, time.Second, 50*ms)

	fired, failed := s.Stats()
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	// The failed note-on never sounded, so its note-off is not sent.
	if engine.count("off 60") != 0 {
		t.Error("note-off sent for a note that never started")
	}
	if engine.count("on 64") != 1 || fired != 3 {
		t.Errorf("fired = %d, calls = %v", fired, engine.log())
	}
	if !s.Position().Finished {
		t.Error("a failing event stopped playback")
	}
}

func TestRetriggerReleasesFirst(t *testing.T) {
	clock := NewManualClock()
	engine := newFakeEngine()
	s := NewScheduler(clock, engine, SchedulerOptions{})
	s.Load(&timing.Timeline{
		Events: []midi.Event{
			{Kind: midi.KindNoteOn, Time: 0, Pitch: 60, Velocity: 90},
			{Kind: midi.KindNoteOn, Time: 200 * ms, Pitch: 60, Velocity: 90},
			{Kind: midi.KindNoteOff, Time: 400 * ms, Pitch: 60},
			{Kind: midi.KindNoteOff, Time: 600 * ms, Pitch: 60},
		},
		Duration: time.Second,
	})
	s.Play(0)
	advanceBy(clock, time.Second, 50*ms)

	want := []string{"on 60", "off 60", "on 60", "off 60", "release"}
	if got := engine.log(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestLoadResets(t *testing.T) {
	s, clock, engine := newTestScheduler(SchedulerOptions{})
	s.Play(0)
	clock.Advance(200 * ms)
	s.Load(twoNotes())
	if pos := s.Position(); pos.State != Stopped || pos.Offset != 0 {
		t.Errorf("after load: %+v", pos)
	}
	if engine.voices() != 0 {
		t.Error("load left notes sounding")
	}
}

func TestWallClockScheduler(t *testing.T) {
	if testing.Short() {
		t.Skip("real time")
	}
	done := make(chan Position, 1)
	engine := newFakeEngine()
	s := NewScheduler(NewWallClock(), engine, SchedulerOptions{
		PollInterval: 20 * ms,
		OnFinish:     func(p Position) { done <- p },
	})
	s.Load(twoNotes())
	s.Play(800 * ms)

	select {
	case p := <-done:
		if p.Offset != time.Second {
			t.Errorf("finished at %v", p.Offset)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not finish")
	}
	if engine.voices() != 0 {
		t.Error("stuck notes")
	}
}

func TestZeroLengthNoteLeavesNothingSounding(t *testing.T) {
	tl := timing.NewTimeline([][]midi.Event{{
		{Kind: midi.KindNoteOn, Time: 0, Pitch: 60, Velocity: 100},
		{Kind: midi.KindNoteOn, Time: 100 * ms, Pitch: 62, Velocity: 100},
		{Kind: midi.KindNoteOff, Time: 100 * ms, Pitch: 62},
		{Kind: midi.KindNoteOff, Time: 3000 * ms, Pitch: 60},
	}}, 0)
	clock := NewManualClock()
	engine := newFakeEngine()
	s := NewScheduler(clock, engine, SchedulerOptions{})
	s.Load(tl)

	if err := s.Play(0); err != nil {
		t.Fatal(err)
	}
	advanceBy(clock, 2000*ms, 50*ms)
	if engine.voices() != 1 || engine.count("on 62") != 0 {
		t.Fatalf("at 2s: voices %d, calls %v", engine.voices(), engine.log())
	}

	advanceBy(clock, 1500*ms, 50*ms)
	if s.State() != Stopped || engine.voices() != 0 {
		t.Errorf("after end: state %v, voices %d", s.State(), engine.voices())
	}
}
