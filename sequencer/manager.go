package sequencer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go-remi/debug"
	"go-remi/timing"
)

// Deck names used by the player.
const (
	DeckOriginal = "original"
	DeckEnhanced = "enhanced"
)

// Manager owns a set of named decks that share one engine. At most one deck
// plays at a time: starting a deck stops every other one first, so their
// voices are released before the new deck makes a sound.
type Manager struct {
	mu     sync.Mutex
	clock  Clock
	engine SynthesisEngine
	poll   time.Duration

	decks  map[string]*Scheduler
	active string // last deck started

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// NewManager creates a manager with no decks. poll is the progress
// interval handed to every deck; zero means the scheduler default.
func NewManager(clock Clock, engine SynthesisEngine, poll time.Duration) *Manager {
	return &Manager{
		clock:      clock,
		engine:     engine,
		poll:       poll,
		decks:      make(map[string]*Scheduler),
		UpdateChan: make(chan struct{}, 1),
	}
}

// Load puts a timeline on the named deck, creating the deck if needed.
func (m *Manager) Load(name string, tl *timing.Timeline) *Scheduler {
	m.mu.Lock()
	d, ok := m.decks[name]
	if !ok {
		d = NewScheduler(m.clock, m.engine, SchedulerOptions{
			Name:         name,
			PollInterval: m.poll,
			OnProgress:   func(Position) { m.signal() },
		})
		m.decks[name] = d
		if m.active == "" {
			m.active = name
		}
	}
	m.mu.Unlock()

	d.Load(tl)
	return d
}

// Deck returns the named deck, or nil.
func (m *Manager) Deck(name string) *Scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decks[name]
}

// Decks lists deck names, original first.
func (m *Manager) Decks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.decks))
	for name := range m.decks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == DeckOriginal) != (names[j] == DeckOriginal) {
			return names[i] == DeckOriginal
		}
		return names[i] < names[j]
	})
	return names
}

// Active is the deck most recently started or selected.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Select makes name the active deck without starting it. Whatever else is
// playing is stopped, holding its position.
func (m *Manager) Select(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.decks[name]; !ok {
		return fmt.Errorf("sequencer: no deck %q", name)
	}
	m.stopOthersLocked(name)
	m.active = name
	return nil
}

// Play starts the named deck from the given offset.
func (m *Manager) Play(name string, from time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[name]
	if !ok {
		return fmt.Errorf("sequencer: no deck %q", name)
	}
	m.stopOthersLocked(name)
	m.active = name
	return d.Play(from)
}

// Toggle is the play/pause button for the named deck: pause when playing,
// resume when paused, otherwise play from the held position (or from the
// top if the deck had run to the end).
func (m *Manager) Toggle(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[name]
	if !ok {
		return fmt.Errorf("sequencer: no deck %q", name)
	}
	m.active = name

	pos := d.Position()
	switch pos.State {
	case Playing:
		d.Pause()
		return nil
	case Paused:
		m.stopOthersLocked(name)
		return d.Resume()
	}
	from := pos.Offset
	if pos.Finished || (pos.Duration > 0 && from >= pos.Duration) {
		from = 0
	}
	m.stopOthersLocked(name)
	return d.Play(from)
}

// Seek moves the active deck.
func (m *Manager) Seek(to time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.decks[m.active]
	if d == nil {
		return ErrNoTimeline
	}
	return d.Seek(to)
}

// SeekBy moves the active deck relative to its position.
func (m *Manager) SeekBy(delta time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.decks[m.active]
	if d == nil {
		return ErrNoTimeline
	}
	return d.Seek(d.Position().Offset + delta)
}

// Position reports the active deck's position.
func (m *Manager) Position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.decks[m.active]; d != nil {
		return d.Position()
	}
	return Position{}
}

// Playing returns the name of the deck that is playing, if any.
func (m *Manager) Playing() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, d := range m.decks {
		if d.State() == Playing {
			return name, true
		}
	}
	return "", false
}

// StopAll stops every deck.
func (m *Manager) StopAll(resetToZero bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.decks {
		d.Stop(resetToZero)
	}
}

// Close stops every deck and silences the engine.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.decks {
		d.Close()
	}
	if err := m.engine.ReleaseAll(); err != nil {
		debug.Log("decks", "release on close: %v", err)
	}
}

func (m *Manager) stopOthersLocked(keep string) {
	for name, d := range m.decks {
		if name == keep {
			continue
		}
		if st := d.State(); st != Stopped {
			debug.Log("decks", "stopping %s (%s) for %s", name, st, keep)
			d.Stop(false)
		}
	}
}

func (m *Manager) signal() {
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}
