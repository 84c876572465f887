package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-remi/debug"
	"go-remi/sequencer"
	"go-remi/theme"
	"go-remi/widgets"
)

const defaultBarWidth = 40

var keys = []widgets.KeyBinding{
	{Key: "space", Desc: "play/pause"},
	{Key: "s", Desc: "stop"},
	{Key: "←/→", Desc: "seek"},
	{Key: "1/2", Desc: "deck"},
	{Key: "q", Desc: "quit"},
}

// Model is the two-deck player: the original file and, when one was
// given, the enhanced version.
type Model struct {
	Decks    *sequencer.Manager
	Theme    *theme.Theme
	Titles   map[string]string // deck name -> file shown next to it
	SeekStep time.Duration

	width    int
	status   string
	quitting bool
}

type UpdateMsg struct{}

func NewModel(decks *sequencer.Manager, th *theme.Theme, titles map[string]string, seekStep time.Duration) Model {
	if th == nil {
		th = theme.New(nil)
	}
	if seekStep <= 0 {
		seekStep = 5 * time.Second
	}
	return Model{
		Decks:    decks,
		Theme:    th,
		Titles:   titles,
		SeekStep: seekStep,
	}
}

func ListenForUpdates(decks *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-decks.UpdateChan
		return UpdateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.Decks)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case UpdateMsg:
		return m, ListenForUpdates(m.Decks)
	}
	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	active := m.Decks.Active()
	var err error

	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		m.Decks.StopAll(false)
		m.Decks.Close()
		return m, tea.Quit

	case " ", "space", "p":
		err = m.Decks.Toggle(active)

	case "s":
		if d := m.Decks.Deck(active); d != nil {
			d.Stop(true)
		}

	case "left", "h":
		err = m.Decks.SeekBy(-m.SeekStep)

	case "right", "l":
		err = m.Decks.SeekBy(m.SeekStep)

	case "home", "0":
		err = m.Decks.Seek(0)

	case "1":
		err = m.Decks.Select(sequencer.DeckOriginal)

	case "2":
		err = m.Decks.Select(sequencer.DeckEnhanced)

	case "tab":
		names := m.Decks.Decks()
		for i, name := range names {
			if name == active {
				err = m.Decks.Select(names[(i+1)%len(names)])
				break
			}
		}
	default:
		return m, nil
	}

	m.status = ""
	if err != nil {
		debug.Log("tui", "%s: %v", key, err)
		m.status = err.Error()
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent()).Background(m.Theme.BG())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	activeStyle := lipgloss.NewStyle().Foreground(m.Theme.FG())
	cursorStyle := lipgloss.NewStyle().Foreground(m.Theme.Cursor())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	active := m.Decks.Active()
	pos := m.Decks.Position()

	stateStyle := headerStyle
	switch {
	case pos.State == sequencer.Playing:
		stateStyle = lipgloss.NewStyle().Foreground(m.Theme.Active())
	case pos.Finished:
		stateStyle = lipgloss.NewStyle().Foreground(m.Theme.Success())
	}
	state := string(m.Theme.StateSymbol(pos.State.String()))
	if pos.Finished {
		state += " done"
	}
	header := headerStyle.Render("go-remi  ") + stateStyle.Render(state) + headerStyle.Render(" "+active)

	var decks strings.Builder
	for _, name := range m.Decks.Decks() {
		d := m.Decks.Deck(name)
		if d == nil {
			continue
		}
		p := d.Position()
		mark, markStyle, style := m.Theme.Symbols.Unselected, dimStyle, dimStyle
		if name == active {
			mark, markStyle, style = m.Theme.Symbols.Selected, cursorStyle, activeStyle
		}
		line := fmt.Sprintf("%-9s %c %s  %s", name, m.Theme.StateSymbol(p.State.String()),
			widgets.RenderTime(p.Offset, p.Duration), m.Titles[name])
		decks.WriteString(markStyle.Render(string(mark)) + " " + style.Render(line))
		decks.WriteString("\n")
	}

	width := defaultBarWidth
	if m.width > 0 && m.width-4 < width {
		width = max(m.width-4, 10)
	}
	bar := widgets.ProgressBar{
		Width:       width,
		Filled:      m.Theme.Symbols.BarFilled,
		Empty:       m.Theme.Symbols.BarEmpty,
		Head:        m.Theme.Symbols.BarHead,
		// the fill warms up along the palette as the deck plays
		FilledStyle: lipgloss.NewStyle().Foreground(m.Theme.Color(pos.Progress())),
		EmptyStyle:  dimStyle,
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(decks.String())
	out.WriteString("\n")
	out.WriteString(bar.Render(pos.Progress()))
	out.WriteString("\n\n")
	out.WriteString(dimStyle.Render(widgets.RenderKeyLine(keys)))
	if m.status != "" {
		out.WriteString("\n")
		out.WriteString(warnStyle.Render(m.status))
	}
	return out.String()
}
