package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/kapitanov/chip8core/internal/hal"
	"github.com/kapitanov/chip8core/internal/machine"
	"github.com/kapitanov/chip8core/internal/statsview"
	"github.com/kapitanov/chip8core/internal/term"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/kapitanov/chip8core/internal/wavrec"
	"github.com/spf13/cobra"
)

const (
	frontendSDL  = "sdl"
	frontendTerm = "term"
)

type frontend interface {
	machine.HAL
	Shutdown()
}

func main() {
	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s PATH_TO_ROM_FILE", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	verbose := cmd.Flags().BoolP("verbose", "v", false, "enable verbose logging")
	frontendName := cmd.Flags().String("frontend", frontendSDL, "front end to use: sdl or term")
	cpuHz := cmd.Flags().Int("cpu-hz", machine.DefaultCPUHz, "instructions per second")
	timerHz := cmd.Flags().Int("timer-hz", machine.DefaultTimerHz, "timer ticks per second")
	seed := cmd.Flags().Uint64("seed", 0, "seed for the random number generator (default: random)")
	recordAudio := cmd.Flags().String("record-audio", "", "write the buzzer to a WAV file")
	withStats := cmd.Flags().Bool("statsview", false, "serve runtime statistics on "+statsview.DefaultAddress)
	haltOnUnmapped := cmd.Flags().Bool("halt-on-unmapped", false, "stop on an unmapped instruction")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		loggerOpts := &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}
		if *verbose {
			loggerOpts.Level = slog.LevelDebug
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, loggerOpts))
		slog.SetDefault(logger)

		cfg := machine.Config{
			CPUHz:          *cpuHz,
			TimerHz:        *timerHz,
			HaltOnUnmapped: *haltOnUnmapped,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		path := args[0]
		bs, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to load file %q: %w", path, err)
		}

		if *withStats {
			statsview.Launch(statsview.DefaultAddress, logger)
		}

		vmOpts := []vm.Option{vm.WithLogger(logger)}
		if cmd.Flags().Changed("seed") {
			vmOpts = append(vmOpts, vm.WithSeed(*seed))
		}
		cpu := vm.New(vmOpts...)

		fe, err := newFrontend(*frontendName, cfg.TimerHz)
		if err != nil {
			return err
		}
		defer fe.Shutdown()

		machineOpts := []machine.Option{machine.WithLogger(logger)}
		if *recordAudio != "" {
			rec := wavrec.New(*recordAudio, cfg.TimerHz)
			defer func() {
				if err := rec.Close(); err != nil {
					logger.Error("unable to save audio", "err", err)
				}
			}()
			machineOpts = append(machineOpts, machine.WithAudioSink(rec))
		}

		m, err := machine.New(cfg, cpu, fe, bs, machineOpts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		for {
			err = m.Run(ctx)

			if errors.Is(err, machine.ErrQuit) || errors.Is(err, context.Canceled) {
				return nil
			}

			if errors.Is(err, machine.ErrReboot) {
				logger.Info("rebooting")
				continue
			}

			return err
		}
	}

	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func newFrontend(name string, timerHz int) (frontend, error) {
	switch name {
	case frontendSDL:
		h, err := hal.New(timerHz)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize hal: %w", err)
		}
		return h, nil

	case frontendTerm:
		t, err := term.New(term.DefaultHoldTime)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize terminal: %w", err)
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unknown front end %q", name)
	}
}
