package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"go-remi/debug"
	"go-remi/midi"
	"go-remi/sequencer"
	"go-remi/smf"
	"go-remi/widgets"
)

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "record from a MIDI keyboard until interrupted",
		Flags: []cli.Flag{
			outputFlag(),
			&cli.StringFlag{Name: "in", Usage: "keyboard input port (substring match)"},
			&cli.StringFlag{Name: "name", Usage: "name the saved take"},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long (default: until ctrl-c)"},
			&cli.DurationFlag{Name: "wait", Value: 10 * time.Second, Usage: "how long to wait for a keyboard"},
			&cli.BoolFlag{Name: "no-monitor", Usage: "do not echo played notes to the output"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := configFrom(ctx)
			filter := cfg.Keyboard.PortName
			if c.IsSet("in") {
				filter = c.String("in")
			}

			var monitor sequencer.SynthesisEngine
			if cfg.Keyboard.Monitor && !c.Bool("no-monitor") {
				out, err := midi.OpenOutput(cfg.Output.PortName)
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: no monitor output: %v\n", err)
				} else {
					defer out.Close()
					monitor = out
				}
			}

			devCtx, cancelDevices := context.WithCancel(ctx)
			defer cancelDevices()
			devices := midi.NewDeviceManager(filter)
			go devices.Run(devCtx)

			kb, err := waitForKeyboard(ctx, devices, c.Duration("wait"))
			if err != nil {
				return err
			}
			fmt.Printf("recording from %s, ctrl-c to stop\n", kb.ID())

			recCtx := ctx
			if d := c.Duration("duration"); d > 0 {
				var cancel context.CancelFunc
				recCtx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			rec := sequencer.NewRecorder(sequencer.NewWallClock())
			rec.Start()
			rec.Run(recCtx, kb.NoteEvents(), monitor)
			notes := rec.Stop()
			if monitor != nil {
				monitor.ReleaseAll()
			}
			if len(notes) == 0 {
				return errors.New("nothing recorded")
			}

			if dir, err := sequencer.TakesDir(); err == nil {
				if file, err := sequencer.SaveTake(dir, c.String("name"), notes); err != nil {
					fmt.Fprintf(os.Stderr, "warning: save take: %v\n", err)
				} else {
					debug.Log("record", "saved take %s", file)
				}
			}
			return writeMIDI(c.String("output"), smf.Encode(notes, cfg.EncodeOptions()), len(notes))
		},
	}
}

// waitForKeyboard returns the first controller the device manager
// connects.
func waitForKeyboard(ctx context.Context, devices *midi.DeviceManager, wait time.Duration) (midi.Controller, error) {
	timeout := time.After(wait)
	for {
		select {
		case ev, ok := <-devices.Events():
			if !ok {
				return nil, errors.New("device scan stopped")
			}
			if ev.Type == midi.DeviceConnected {
				return ev.Controller, nil
			}
		case <-timeout:
			return nil, fmt.Errorf("no keyboard found after %v: %w", wait, midi.ErrPortNotFound)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func takesCommand() *cli.Command {
	return &cli.Command{
		Name:  "takes",
		Usage: "list, export or delete recorded takes",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list saved takes, newest first",
				Action: func(ctx context.Context, c *cli.Command) error {
					dir, err := sequencer.TakesDir()
					if err != nil {
						return err
					}
					takes, err := sequencer.ListTakes(dir)
					if err != nil {
						return err
					}
					for _, t := range takes {
						fmt.Printf("%s  %-20s %s\n", t.Timestamp.Format("2006-01-02 15:04:05"), t.Name, t.Filename)
					}
					return nil
				},
			},
			{
				Name:      "export",
				Usage:     "write a take as a MIDI file (default: newest)",
				ArgsUsage: "[TAKE]",
				Flags:     []cli.Flag{outputFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					dir, err := sequencer.TakesDir()
					if err != nil {
						return err
					}
					take, err := sequencer.LoadTake(dir, c.Args().First())
					if err != nil {
						return err
					}
					end := int64(0)
					for _, n := range take.Notes {
						end = max(end, n.EndMs())
					}
					fmt.Printf("take %q from %s, %s long\n", take.Name, take.Recorded.Format(time.DateTime),
						widgets.FormatClock(time.Duration(end)*time.Millisecond))
					return writeMIDI(c.String("output"), smf.Encode(take.Notes, configFrom(ctx).EncodeOptions()), len(take.Notes))
				},
			},
			{
				Name:      "rm",
				Usage:     "delete a take",
				ArgsUsage: "TAKE",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.NArg() != 1 {
						return errors.New("rm needs a take filename")
					}
					dir, err := sequencer.TakesDir()
					if err != nil {
						return err
					}
					return sequencer.DeleteTake(dir, c.Args().First())
				},
			},
		},
	}
}

func portsCommand() *cli.Command {
	return &cli.Command{
		Name:  "ports",
		Usage: "list MIDI ports",
		Action: func(ctx context.Context, c *cli.Command) error {
			ports, err := midi.ScanPorts(midi.ScanTimeout)
			if err != nil {
				return err
			}
			fmt.Println("inputs:")
			for i, p := range ports.Ins {
				fmt.Printf("  %d: %s\n", i, p.String())
			}
			fmt.Println("outputs:")
			for i, p := range ports.Outs {
				fmt.Printf("  %d: %s\n", i, p.String())
			}
			return nil
		},
	}
}
