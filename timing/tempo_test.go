package timing

import (
	"testing"
	"time"
)

func TestTempoMapDefault(t *testing.T) {
	m := NewTempoMap()
	if m.Len() != 1 || m.TempoAt(0) != DefaultTempo {
		t.Fatalf("default map = %v", m.Entries())
	}
	if got := m.TimeAt(960, 480); got != time.Second {
		t.Fatalf("TimeAt(960) = %v, want 1s", got)
	}
	if got := m.BPMAt(12345); got != 120 {
		t.Fatalf("BPMAt = %v, want 120", got)
	}
}

func TestTempoMapMidTrackChange(t *testing.T) {
	m := NewTempoMap(TempoChange{Tick: 480, MicrosPerQuarter: 250000})

	tests := []struct {
		tick int64
		want time.Duration
	}{
		{0, 0},
		{240, 250 * time.Millisecond},
		{480, 500 * time.Millisecond},
		{720, 625 * time.Millisecond},
		{960, 750 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := m.TimeAt(tt.tick, 480); got != tt.want {
			t.Errorf("TimeAt(%d) = %v, want %v", tt.tick, got, tt.want)
		}
		if got := m.TickAt(tt.want, 480); got != tt.tick {
			t.Errorf("TickAt(%v) = %d, want %d", tt.want, got, tt.tick)
		}
	}
}

func TestTempoMapOverrideAtZero(t *testing.T) {
	m := NewTempoMap(
		TempoChange{Tick: 0, MicrosPerQuarter: 1000000},
		TempoChange{Tick: 96, MicrosPerQuarter: 400000},
		TempoChange{Tick: 96, MicrosPerQuarter: 600000},
	)
	entries := m.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want 2", entries)
	}
	if entries[0].MicrosPerQuarter != 1000000 || entries[1].MicrosPerQuarter != 600000 {
		t.Fatalf("entries = %v", entries)
	}
	if got := m.TimeAt(192, 96); got != 1600*time.Millisecond {
		t.Fatalf("TimeAt(192) = %v, want 1.6s", got)
	}
}

func TestTempoMapStrictlyIncreasing(t *testing.T) {
	m := NewTempoMap(
		TempoChange{Tick: 900, MicrosPerQuarter: 300000},
		TempoChange{Tick: 100, MicrosPerQuarter: 400000},
		TempoChange{Tick: 500, MicrosPerQuarter: 0},
		TempoChange{Tick: 500, MicrosPerQuarter: 450000},
	)
	entries := m.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].Tick <= entries[i-1].Tick {
			t.Fatalf("entries not strictly increasing: %v", entries)
		}
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %v, want 4", entries)
	}
}

func TestSMPTETime(t *testing.T) {
	if got := SMPTETime(25*40, 25, 40); got != time.Second {
		t.Fatalf("SMPTETime 25fps = %v, want 1s", got)
	}
	if got := SMPTETime(0, 30, 80); got != 0 {
		t.Fatalf("SMPTETime(0) = %v", got)
	}
}
