package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/ringflash/internal/app"
	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ring"
	"github.com/dokzlo13/ringflash/internal/targets"
)

// Source tags rings started from the command line.
const Source = "cli"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ring engine with its triggers and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().Str("config", configPath).Msg("Starting ringflash")

			ctx := app.SignalContext()
			application, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			return application.Run(ctx)
		},
	}
}

// withServices wires the services, connects the device backend and runs fn.
// Triggers and the API are not started.
func withServices(fn func(ctx context.Context, s *app.Services) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := app.SignalContext()
	services, err := app.NewServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Devices.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, services)
}

type flashFlags struct {
	targets       string
	flashes       int
	on            time.Duration
	off           time.Duration
	brightnessPct float64
	color         string
	noRestore     bool
}

func (f *flashFlags) register(cmd *cobra.Command, prefix string) {
	cmd.Flags().StringVar(&f.targets, prefix+"targets", "", "Comma-separated entities or groups (default: configured targets)")
	cmd.Flags().IntVar(&f.flashes, prefix+"flashes", 0, "Number of on/off cycles")
	cmd.Flags().DurationVar(&f.on, prefix+"on", 0, "On time per cycle")
	cmd.Flags().DurationVar(&f.off, prefix+"off", 0, "Off time per cycle")
	cmd.Flags().Float64Var(&f.brightnessPct, prefix+"brightness-pct", 0, "Brightness percentage")
	cmd.Flags().StringVar(&f.color, prefix+"color", "", "Color name, hex or r,g,b")
	cmd.Flags().BoolVar(&f.noRestore, prefix+"no-restore", false, "Leave lights as the flash left them")
}

func (f *flashFlags) request() flash.Request {
	req := flash.Request{
		Targets: targets.None(),
		Flashes: f.flashes,
		On:      f.on,
		Off:     f.off,
	}
	if f.targets != "" {
		req.Targets = targets.FromString(f.targets)
	}
	if f.brightnessPct > 0 {
		req.Brightness = color.Percent(f.brightnessPct)
	}
	if f.color != "" {
		req.Color = f.color
	}
	if f.noRestore {
		restore := false
		req.Restore = &restore
	}
	return req
}

type chimeFlags struct {
	players  string
	url      string
	volume   float64
	duration time.Duration
}

func (f *chimeFlags) register(cmd *cobra.Command, prefix string) {
	cmd.Flags().StringVar(&f.players, prefix+"players", "", "Comma-separated media players (default: configured players)")
	cmd.Flags().StringVar(&f.url, prefix+"url", "", "Chime media URL")
	cmd.Flags().Float64Var(&f.volume, prefix+"volume", -1, "Volume between 0 and 1")
	cmd.Flags().DurationVar(&f.duration, prefix+"duration", 0, "Play time before restoring (default: media length)")
}

func (f *chimeFlags) request() chime.Request {
	req := chime.Request{
		Players:  targets.None(),
		MediaURL: f.url,
		Duration: f.duration,
	}
	if f.players != "" {
		req.Players = targets.FromString(f.players)
	}
	if f.volume >= 0 {
		vol := f.volume
		req.Volume = &vol
	}
	return req
}

func flashCmd() *cobra.Command {
	var flags flashFlags
	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Flash lights once and restore them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *app.Services) error {
				report, err := s.Flash.Flash(ctx, flags.request())
				printFlash(report)
				return err
			})
		},
	}
	flags.register(cmd, "")
	return cmd
}

func chimeCmd() *cobra.Command {
	var flags chimeFlags
	cmd := &cobra.Command{
		Use:   "chime",
		Short: "Play the chime once and restore the players",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *app.Services) error {
				report, err := s.Chime.Chime(ctx, flags.request())
				printChime(report)
				return err
			})
		},
	}
	flags.register(cmd, "")
	return cmd
}

func ringCmd() *cobra.Command {
	var (
		flashes flashFlags
		chimes  chimeFlags
		noFlash bool
		noChime bool
	)
	cmd := &cobra.Command{
		Use:   "ring",
		Short: "Run one full ring: flash and chime together",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *app.Services) error {
				p := ring.Params{
					Source: Source,
					Flash:  flashes.request(),
					Chime:  chimes.request(),
				}
				if noFlash {
					p.FlashEnabled = new(bool)
				}
				if noChime {
					p.ChimeEnabled = new(bool)
				}
				printOutcome(s.Orchestrator.Ring(ctx, p))
				return nil
			})
		},
	}
	flashes.register(cmd, "flash-")
	chimes.register(cmd, "chime-")
	cmd.Flags().BoolVar(&noFlash, "no-flash", false, "Skip the flash arm")
	cmd.Flags().BoolVar(&noChime, "no-chime", false, "Skip the chime arm")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [targets...]",
		Short: "Show how targets resolve without touching any device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *app.Services) error {
				in := targets.None()
				if len(args) > 0 {
					in = targets.FromList(args)
				}
				set, err := s.Flash.Resolve(ctx, in)
				if err != nil {
					return err
				}
				printTargets(set)
				return nil
			})
		},
	}
}
