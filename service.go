package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"go-remi/remote"
	"go-remi/sequencer"
	"go-remi/server"
	"go-remi/smf"
)

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "continue a MIDI file with the generation service",
		ArgsUsage: "IN.mid",
		Flags: []cli.Flag{
			outputFlag(),
			&cli.IntFlag{Name: "bars", Usage: fmt.Sprintf("bars to generate (%d-%d)", remote.MinBars, remote.MaxBars)},
			&cli.FloatFlag{Name: "temperature", Usage: fmt.Sprintf("sampling temperature (%.1f-%.1f)", remote.MinTemperature, remote.MaxTemperature)},
			&cli.IntFlag{Name: "topk", Usage: fmt.Sprintf("top-k sampling (%d-%d)", remote.MinTopK, remote.MaxTopK)},
			&cli.StringFlag{Name: "service", Usage: "generation service URL (default from config)"},
			&cli.BoolFlag{Name: "play", Usage: "open the player on the prompt and the result"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return errors.New("generate needs exactly one MIDI file")
			}
			cfg := configFrom(ctx)
			if c.IsSet("service") {
				cfg.Service.BaseURL = c.String("service")
			}
			in := c.Args().First()

			req := cfg.GenerateRequest(in)
			if c.IsSet("bars") {
				req.NTargetBar = c.Int("bars")
			}
			if c.IsSet("temperature") {
				req.Temperature = c.Float("temperature")
			}
			if c.IsSet("topk") {
				req.TopK = c.Int("topk")
			}

			if err := req.Validate(); err != nil {
				return err
			}

			prompt, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			if _, err := smf.Decode(prompt); err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}

			client := cfg.Client()
			path, err := client.UploadMIDI(ctx, filepath.Base(in), prompt)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			req.InPath = path
			fmt.Printf("generating %d bars (temperature %.2f, top-k %d)...\n", req.NTargetBar, req.Temperature, req.TopK)
			out, err := client.Generate(ctx, req)
			if err != nil {
				return err
			}

			f, err := smf.Decode(out)
			if err != nil {
				return fmt.Errorf("generated file: %w", err)
			}
			outPath := c.String("output")
			if err := writeMIDI(outPath, out, len(f.Notes())); err != nil {
				return err
			}
			if !c.Bool("play") {
				return nil
			}
			return runPlayer(cfg, map[string]string{
				sequencer.DeckOriginal: in,
				sequencer.DeckEnhanced: outPath,
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the companion HTTP service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (default from config)"},
			&cli.StringFlag{Name: "data", Usage: "data directory (default from config)"},
			&cli.StringFlag{Name: "upstream", Usage: "generation service to proxy /generate to"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := configFrom(ctx)
			if c.IsSet("addr") {
				cfg.Server.Addr = c.String("addr")
			}
			if c.IsSet("data") {
				cfg.Server.DataDir = c.String("data")
			}
			if c.IsSet("upstream") {
				cfg.Server.Upstream = c.String("upstream")
			}
			dir, err := cfg.DataDir()
			if err != nil {
				return err
			}

			opts := server.Options{
				Addr:    cfg.Server.Addr,
				DataDir: dir,
				Encode:  cfg.EncodeOptions(),
			}
			if cfg.Server.Upstream != "" {
				cfg.Service.BaseURL = cfg.Server.Upstream
				opts.Upstream = cfg.Client()
			}
			srv, err := server.New(opts)
			if err != nil {
				return err
			}
			fmt.Printf("serving on http://%s (data in %s)\n", cfg.Server.Addr, dir)
			return srv.ListenAndServe(ctx)
		},
	}
}
