package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-remi/config"
	"go-remi/debug"
)

type cfgKey struct{}

// configFrom returns the config loaded by the root command's Before hook.
func configFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(cfgKey{}).(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

func main() {
	cmd := &cli.Command{
		Name:  "go-remi",
		Usage: "play, record, correct and generate MIDI",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "write a debug log to ~/.config/go-remi/debug.log",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "MIDI output port (substring match, default from config)",
			},
			&cli.IntFlag{
				Name:  "channel",
				Value: -1,
				Usage: "MIDI channel 0-15 for played and recorded notes",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if c.Bool("debug") {
				if err := debug.Enable(); err != nil {
					return ctx, fmt.Errorf("enable debug log: %w", err)
				}
			}
			cfg, err := config.Load()
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if c.IsSet("out") {
				cfg.Output.PortName = c.String("out")
			}
			if ch := c.Int("channel"); ch >= 0 {
				if ch > 15 {
					return ctx, fmt.Errorf("channel %d out of range 0-15", ch)
				}
				cfg.Output.Channel = uint8(ch)
			}
			return context.WithValue(ctx, cfgKey{}, cfg), nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			debug.Disable()
			return nil
		},
		Commands: []*cli.Command{
			playCommand(),
			inspectCommand(),
			encodeCommand(),
			correctCommand(),
			recordCommand(),
			takesCommand(),
			generateCommand(),
			serveCommand(),
			portsCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
