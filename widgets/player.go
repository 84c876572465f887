package widgets

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// FormatClock renders d as m:ss, rounding down to the second.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// ProgressBar draws a bar width cells wide with frac of it filled. The
// head symbol marks the playhead while it is inside the bar.
type ProgressBar struct {
	Width  int
	Filled rune
	Empty  rune
	Head   rune

	FilledStyle lipgloss.Style
	EmptyStyle  lipgloss.Style
}

// Render draws the bar for frac, clamped to 0..1.
func (b ProgressBar) Render(frac float64) string {
	if b.Width <= 0 {
		return ""
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	n := int(frac * float64(b.Width))

	var out strings.Builder
	out.WriteString(b.FilledStyle.Render(strings.Repeat(string(b.Filled), n)))
	rest := b.Width - n
	if rest > 0 && n > 0 && b.Head != 0 {
		out.WriteString(b.FilledStyle.Render(string(b.Head)))
		rest--
	}
	out.WriteString(b.EmptyStyle.Render(strings.Repeat(string(b.Empty), rest)))
	return out.String()
}

// RenderTime shows "elapsed / total".
func RenderTime(elapsed, total time.Duration) string {
	return FormatClock(elapsed) + " / " + FormatClock(total)
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// RenderKeyLine puts every binding on one line: "space:play  q:quit".
func RenderKeyLine(keys []KeyBinding) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.Key + ":" + k.Desc
	}
	return strings.Join(parts, "  ")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}
