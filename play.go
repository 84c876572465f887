package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"go-remi/config"
	"go-remi/debug"
	"go-remi/midi"
	"go-remi/sequencer"
	"go-remi/smf"
	"go-remi/theme"
	"go-remi/timing"
	"go-remi/tui"
)

func playCommand() *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "play a MIDI file in the terminal player",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "enhanced",
				Usage: "second file to compare against, on deck 2",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return errors.New("play needs exactly one MIDI file")
			}
			files := map[string]string{sequencer.DeckOriginal: c.Args().First()}
			if enhanced := c.String("enhanced"); enhanced != "" {
				files[sequencer.DeckEnhanced] = enhanced
			}
			return runPlayer(configFrom(ctx), files)
		},
	}
}

// loadTimeline decodes path for playback. A damaged track is reported and
// whatever decoded before the damage still plays.
func loadTimeline(path string) (*timing.Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := smf.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, err)
	}
	tl := f.Timeline()
	debug.Log("play", "%s: %d events, %v", path, len(tl.Events), tl.Duration)
	return tl, nil
}

func loadTheme(cfg *config.Config) *theme.Theme {
	if cfg.UI.PalettePath == "" {
		return theme.New(nil)
	}
	p, err := theme.LoadGPL(cfg.UI.PalettePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: palette: %v\n", err)
		return theme.New(nil)
	}
	return theme.New(p)
}

// runPlayer loads each deck from its file and hands the terminal to the
// player until the user quits.
func runPlayer(cfg *config.Config, files map[string]string) error {
	out, err := midi.OpenOutput(cfg.Output.PortName)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer out.Close()

	decks := sequencer.NewManager(sequencer.NewWallClock(), out, cfg.PollInterval())
	titles := make(map[string]string, len(files))
	for _, name := range []string{sequencer.DeckOriginal, sequencer.DeckEnhanced} {
		path, ok := files[name]
		if !ok {
			continue
		}
		tl, err := loadTimeline(path)
		if err != nil {
			return err
		}
		decks.Load(name, tl)
		titles[name] = filepath.Base(path)
	}
	if last := cfg.UI.LastDeck; last != "" && decks.Deck(last) != nil {
		decks.Select(last)
	}

	m := tui.NewModel(decks, loadTheme(cfg), titles, cfg.SeekStep())
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, runErr := p.Run()
	decks.Close()

	cfg.UI.LastDeck = decks.Active()
	if err := cfg.Save(); err != nil {
		debug.Log("play", "save config: %v", err)
	}
	return runErr
}
