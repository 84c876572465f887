package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"go-remi/midi"
	"go-remi/smf"
	"go-remi/theory"
	"go-remi/widgets"
)

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "output",
		Aliases:  []string{"o"},
		Usage:    "file to write",
		Required: true,
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the header, tracks and tempo map of a MIDI file",
		ArgsUsage: "FILE",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return errors.New("inspect needs exactly one MIDI file")
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			f, err := smf.Decode(data)
			if err != nil {
				return err
			}
			printFile(f)
			return nil
		},
	}
}

func printFile(f *smf.File) {
	fmt.Printf("format %d, %d tracks declared, %s\n", f.Format, f.TrackCount, f.Division)
	fmt.Printf("tempo: %s\n", f.TempoMap())
	for i, tr := range f.Tracks {
		name := tr.Name
		if name == "" {
			name = "-"
		}
		notes := 0
		for _, e := range tr.Events {
			if e.Kind == midi.KindNoteOn {
				notes++
			}
		}
		fmt.Printf("  track %d %-16s %5d events %5d notes  ends %s\n",
			i, name, len(tr.Events), notes, widgets.FormatClock(tr.End))
		if tr.Err != nil {
			fmt.Printf("    error: %v\n", tr.Err)
		}
	}
	tl := f.Timeline()
	fmt.Printf("duration %s (declared %s)\n", widgets.FormatClock(tl.Duration), widgets.FormatClock(f.End()))
}

func encodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "write a JSON note list as a MIDI file",
		ArgsUsage: "NOTES.json",
		Flags: []cli.Flag{
			outputFlag(),
			&cli.BoolFlag{Name: "compress", Usage: "shorten long notes"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return errors.New("encode needs exactly one note list")
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			var notes []midi.Note
			if err := json.Unmarshal(data, &notes); err != nil {
				return fmt.Errorf("note list: %w", err)
			}
			opts := configFrom(ctx).EncodeOptions()
			opts.CompressLongNotes = opts.CompressLongNotes || c.Bool("compress")
			return writeMIDI(c.String("output"), smf.Encode(notes, opts), len(notes))
		},
	}
}

func correctCommand() *cli.Command {
	return &cli.Command{
		Name:      "correct",
		Usage:     "snap out-of-key notes into the detected key",
		ArgsUsage: "IN.mid",
		Flags:     []cli.Flag{outputFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return errors.New("correct needs exactly one MIDI file")
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			res, err := theory.CorrectFile(data, configFrom(ctx).EncodeOptions())
			if err != nil {
				return err
			}
			fmt.Printf("key %s: %d of %d notes moved\n", res.Key, len(res.Corrections), res.Notes)
			flats := res.Key.PrefersFlats()
			for i, cor := range res.Corrections {
				if i == 8 {
					fmt.Printf("  ... %d more\n", len(res.Corrections)-i)
					break
				}
				fmt.Printf("  note %d: %s -> %s\n", cor.Index, cor.From.Name(flats), cor.To.Name(flats))
			}
			return writeMIDI(c.String("output"), res.Data, res.Notes)
		},
	}
}

func writeMIDI(path string, data []byte, notes int) error {
	if !strings.HasSuffix(strings.ToLower(path), ".mid") && !strings.HasSuffix(strings.ToLower(path), ".midi") {
		path += ".mid"
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d notes, %d bytes)\n", path, notes, len(data))
	return nil
}
